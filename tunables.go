package cfq

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/go-cfq/internal/constants"
)

// Tunables are the runtime-adjustable knobs of a scheduler. Grace periods
// are in milliseconds.
type Tunables struct {
	Quantum       int `yaml:"quantum"`
	QuantumIO     int `yaml:"quantum_io"`
	IdleQuantum   int `yaml:"idle_quantum"`
	IdleQuantumIO int `yaml:"idle_quantum_io"`
	Queued        int `yaml:"queued"`
	GraceRT       int `yaml:"grace_rt"`
	GraceIdle     int `yaml:"grace_idle"`
}

// DefaultTunables returns the stock tunables
func DefaultTunables() Tunables {
	return Tunables{
		Quantum:       constants.DefaultQuantum,
		QuantumIO:     constants.DefaultQuantumIO,
		IdleQuantum:   constants.DefaultIdleQuantum,
		IdleQuantumIO: constants.DefaultIdleQuantumIO,
		Queued:        constants.DefaultQueued,
		GraceRT:       int(constants.DefaultGraceRT / time.Millisecond),
		GraceIdle:     int(constants.DefaultGraceIdle / time.Millisecond),
	}
}

// ParseTunables reads tunables from YAML. Missing fields keep their
// defaults and every value is clamped to its range.
func ParseTunables(data []byte) (*Tunables, error) {
	t := DefaultTunables()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, WrapError("PARSE_TUNABLES", ErrCodeInvalidParameters, err)
	}
	t.clamp()
	return &t, nil
}

// LoadTunables reads a YAML tunables file
func LoadTunables(path string) (*Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError("LOAD_TUNABLES", ErrCodeNotFound, err)
	}
	return ParseTunables(data)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (t *Tunables) clamp() {
	for _, a := range tunableAttrs {
		p := a.field(t)
		*p = clampInt(*p, a.min, constants.MaxTunable)
	}
}

func (t *Tunables) graceRT() time.Duration {
	return time.Duration(t.GraceRT) * time.Millisecond
}

func (t *Tunables) graceIdle() time.Duration {
	return time.Duration(t.GraceIdle) * time.Millisecond
}

type tunableAttr struct {
	name  string
	min   int
	field func(*Tunables) *int
}

var tunableAttrs = []tunableAttr{
	{"quantum", constants.MinQuantum, func(t *Tunables) *int { return &t.Quantum }},
	{"quantum_io", constants.MinQuantumIO, func(t *Tunables) *int { return &t.QuantumIO }},
	{"idle_quantum", constants.MinIdleQuantum, func(t *Tunables) *int { return &t.IdleQuantum }},
	{"idle_quantum_io", constants.MinIdleQuantumIO, func(t *Tunables) *int { return &t.IdleQuantumIO }},
	{"queued", constants.MinQueued, func(t *Tunables) *int { return &t.Queued }},
	{"grace_rt", constants.MinGraceMs, func(t *Tunables) *int { return &t.GraceRT }},
	{"grace_idle", constants.MinGraceMs, func(t *Tunables) *int { return &t.GraceIdle }},
}

func findTunable(name string) (tunableAttr, bool) {
	for _, a := range tunableAttrs {
		if a.name == name {
			return a, true
		}
	}
	return tunableAttr{}, false
}

// Attributes lists every attribute name Show and Store accept
func Attributes() []string {
	names := make([]string, 0, len(tunableAttrs)+constants.NumClasses)
	for _, a := range tunableAttrs {
		names = append(names, a.name)
	}
	for i := 0; i < constants.NumClasses; i++ {
		names = append(names, fmt.Sprintf("p%d", i))
	}
	return names
}

// parseLeadingInt reads the decimal integer text starts with. Trailing
// text is ignored and no digits at all reads as 0.
func parseLeadingInt(text string) int {
	text = strings.TrimLeft(text, " \t")
	end := 0
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	v, err := strconv.ParseUint(text[:end], 10, 64)
	if err != nil || v > constants.MaxTunable {
		return constants.MaxTunable
	}
	return int(v)
}

// Tunables returns a copy of the current tunables
func (s *Scheduler) Tunables() Tunables {
	s.host.Lock()
	defer s.host.Unlock()
	return s.tun
}

// SetTunables replaces all tunables, clamping each value
func (s *Scheduler) SetTunables(t Tunables) {
	t.clamp()
	s.host.Lock()
	defer s.host.Unlock()
	s.tun = t
}

// Show returns the text value of an attribute: a tunable as "%d\n" or a
// per-class statistics line for p0..p20
func (s *Scheduler) Show(name string) (string, error) {
	s.host.Lock()
	defer s.host.Unlock()

	if a, ok := findTunable(name); ok {
		return fmt.Sprintf("%d\n", *a.field(&s.tun)), nil
	}
	if class, ok := parseClassAttr(name); ok {
		return s.cid[class].stats.String(), nil
	}
	return "", NewError("SHOW", ErrCodeInvalidParameters, fmt.Sprintf("unknown attribute %q", name))
}

// Store sets an attribute from text. Tunables take the leading decimal
// integer of text and clamp it silently; storing anything to p0..p20
// resets that class's statistics.
func (s *Scheduler) Store(name, text string) error {
	s.host.Lock()
	defer s.host.Unlock()

	if a, ok := findTunable(name); ok {
		*a.field(&s.tun) = clampInt(parseLeadingInt(text), a.min, constants.MaxTunable)
		return nil
	}
	if class, ok := parseClassAttr(name); ok {
		s.cid[class].stats = ClassStats{}
		return nil
	}
	return NewError("STORE", ErrCodeInvalidParameters, fmt.Sprintf("unknown attribute %q", name))
}
