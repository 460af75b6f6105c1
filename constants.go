package cfq

import "github.com/ehrlich-b/go-cfq/internal/constants"

// Re-export constants for public API
const (
	NumClasses    = constants.NumClasses
	ClassIdle     = constants.ClassIdle
	ClassNormal   = constants.ClassNormal
	ClassRealtime = constants.ClassRealtime

	DefaultQuantum       = constants.DefaultQuantum
	DefaultQuantumIO     = constants.DefaultQuantumIO
	DefaultIdleQuantum   = constants.DefaultIdleQuantum
	DefaultIdleQuantumIO = constants.DefaultIdleQuantumIO
	DefaultQueued        = constants.DefaultQueued
	DefaultGraceRT       = constants.DefaultGraceRT
	DefaultGraceIdle     = constants.DefaultGraceIdle

	DefaultRequestPoolSize = constants.DefaultRequestPoolSize
	DefaultNrRequests      = constants.DefaultNrRequests
	DefaultMaxSectors      = constants.DefaultMaxSectors
	SectorSize             = constants.SectorSize
)
