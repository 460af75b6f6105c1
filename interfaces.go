package cfq

import (
	"github.com/ehrlich-b/go-cfq/internal/interfaces"
	"github.com/ehrlich-b/go-cfq/internal/logging"
)

// Public aliases for the types shared with the block layer
type (
	Backend        = interfaces.Backend
	DiscardBackend = interfaces.DiscardBackend
	StatBackend    = interfaces.StatBackend
	Observer       = interfaces.Observer

	Request     = interfaces.Request
	Bio         = interfaces.Bio
	IOContext   = interfaces.IOContext
	Direction   = interfaces.Direction
	MergeResult = interfaces.MergeResult
	InsertWhere = interfaces.InsertWhere
	Elevator    = interfaces.Elevator
	Host        = interfaces.Host
)

const (
	DirRead    = interfaces.DirRead
	DirWrite   = interfaces.DirWrite
	DirFlush   = interfaces.DirFlush
	DirDiscard = interfaces.DirDiscard

	NoMerge    = interfaces.NoMerge
	FrontMerge = interfaces.FrontMerge
	BackMerge  = interfaces.BackMerge

	InsertBack  = interfaces.InsertBack
	InsertFront = interfaces.InsertFront
	InsertSort  = interfaces.InsertSort
)

// Logger is the structured logger devices and schedulers report through
type (
	Logger    = logging.Logger
	LogConfig = logging.Config
	LogLevel  = logging.LogLevel
)

const (
	LevelDebug = logging.LevelDebug
	LevelInfo  = logging.LevelInfo
	LevelWarn  = logging.LevelWarn
	LevelError = logging.LevelError
)

// NewLogger creates a logger; a nil config uses logging defaults
func NewLogger(config *LogConfig) *Logger {
	return logging.NewLogger(config)
}

// NopLogger returns a logger that discards everything
func NopLogger() *Logger {
	return logging.Nop()
}

// ParseLogLevel maps a level name such as "debug" to a LogLevel
func ParseLogLevel(name string) LogLevel {
	return logging.ParseLevel(name)
}
