package constants

import (
	"math"
	"time"
)

// Fairness classes
const (
	// NumClasses is the number of fairness classes, IDLE and REALTIME included
	NumClasses = 21

	// ClassIdle may only do I/O when nobody else wants the disk
	ClassIdle = 0

	// ClassNormal is the default class (95% of the disk)
	ClassNormal = 19

	// ClassRealtime always gets priority
	ClassRealtime = NumClasses - 1
)

// Default tunables
const (
	// DefaultQuantum is the max requests a class may dispatch per cycle
	DefaultQuantum = 6

	// DefaultQuantumIO is the max sectors a class may dispatch per cycle
	DefaultQuantumIO = 256

	// DefaultIdleQuantum is the request quantum of the idle class
	DefaultIdleQuantum = 1

	// DefaultIdleQuantumIO is the sector quantum of the idle class
	DefaultIdleQuantumIO = 64

	// DefaultQueued is the per-queue depth below which admission is never throttled
	DefaultQueued = 4

	// DefaultGraceRT is the hold-off after a realtime request leaves the scheduler
	DefaultGraceRT = 10 * time.Millisecond

	// DefaultGraceIdle is the hold-off before idle I/O may run after normal I/O
	DefaultGraceIdle = 100 * time.Millisecond
)

// Tunable bounds
const (
	MinQuantum       = 1
	MinQuantumIO     = 4
	MinIdleQuantum   = 1
	MinIdleQuantumIO = 4
	MinQueued        = 1
	MinGraceMs       = 0
	MaxTunable       = math.MaxInt32
)

// Hash table geometry
const (
	// QueueHashShift sizes the per-process queue hash (64 buckets)
	QueueHashShift = 6

	// MergeHashShift sizes the merge index (256 buckets)
	MergeHashShift = 8

	// MergeHashBlockShift groups end sectors into 4KB blocks before hashing
	MergeHashBlockShift = 3
)

// Request pool and queue sizing
const (
	// DefaultRequestPoolSize bounds outstanding per-request scheduler metadata
	DefaultRequestPoolSize = 512

	// DefaultNrRequests is the block layer's request budget, already
	// scaled by four the way the scheduler asks for at init
	DefaultNrRequests = 128 << 2

	// SectorSize is the unit of Request.Sector and Request.NrSectors
	SectorSize = 512

	// SectorShift converts between bytes and sectors
	SectorShift = 9

	// DefaultMaxSectors caps a merged request at 1MB
	DefaultMaxSectors = 2048
)

// Timing constants for device lifecycle
const (
	// RunnerStopTimeout bounds how long StopAndDelete waits for in-flight I/O
	RunnerStopTimeout = 5 * time.Second
)
