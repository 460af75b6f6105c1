// Package cfq implements Complete Fairness Queueing, a disk I/O scheduler
// that shares a device between processes according to their class, and
// the block layer plumbing that runs it over a storage backend.
package cfq

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/ehrlich-b/go-cfq/internal/constants"
	"github.com/ehrlich-b/go-cfq/internal/logging"
	"github.com/ehrlich-b/go-cfq/internal/queue"
)

// Device is a scheduled block device: bios submitted to it are merged and
// ordered by a Scheduler and executed on its Backend
type Device struct {
	// Backend is the storage requests are executed on
	Backend Backend

	ctx    context.Context
	cancel context.CancelFunc

	nrRequests int
	maxSectors uint64
	started    bool
	runner     *queue.Runner
	sched      *Scheduler

	metrics  *Metrics
	observer Observer
	logger   *logging.Logger
}

// DeviceParams contains parameters for creating a device
type DeviceParams struct {
	// Backend provides the storage implementation
	Backend Backend

	// ID labels the device in logs
	ID int

	NrRequests      int    // Requests the block layer may allocate (default: 512)
	MaxSectors      uint64 // Largest request merging may build (default: 2048)
	RequestPoolSize int    // Scheduler metadata pool bound (default: 512)

	// Tunables overrides the scheduler defaults
	Tunables *Tunables
}

// DefaultParams returns default device parameters
func DefaultParams(backend Backend) DeviceParams {
	return DeviceParams{
		Backend:         backend,
		NrRequests:      constants.DefaultNrRequests,
		MaxSectors:      constants.DefaultMaxSectors,
		RequestPoolSize: constants.DefaultRequestPoolSize,
	}
}

// DeviceOptions contains additional options for device creation
type DeviceOptions struct {
	// Context for cancellation
	Context context.Context

	// Logger for device and scheduler events
	Logger *Logger

	// Observer receives completion events. Defaults to one feeding Metrics.
	Observer Observer

	// Clock drives the scheduler's grace timer
	Clock clock.Clock
}

// CreateAndServe builds the block layer and scheduler for params and
// starts executing requests
func CreateAndServe(ctx context.Context, params DeviceParams, options *DeviceOptions) (*Device, error) {
	if params.Backend == nil {
		return nil, NewError("CREATE", ErrCodeInvalidParameters, "backend is required")
	}
	if options == nil {
		options = &DeviceOptions{}
	}
	if options.Context != nil {
		ctx = options.Context
	}
	if params.NrRequests <= 0 {
		params.NrRequests = constants.DefaultNrRequests
	}
	if params.MaxSectors == 0 {
		params.MaxSectors = constants.DefaultMaxSectors
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithDevice(params.ID)

	ctx, cancel := context.WithCancel(ctx)
	device := &Device{
		Backend:    params.Backend,
		ctx:        ctx,
		cancel:     cancel,
		nrRequests: params.NrRequests,
		maxSectors: params.MaxSectors,
		metrics:    NewMetrics(),
		observer:   options.Observer,
		logger:     logger,
	}
	if device.observer == nil {
		device.observer = NewMetricsObserver(device.metrics)
	}

	runner, err := queue.NewRunner(ctx, queue.Config{
		Backend:    params.Backend,
		Observer:   device.observer,
		Logger:     logger,
		NrRequests: params.NrRequests,
		MaxSectors: params.MaxSectors,
	})
	if err != nil {
		cancel()
		return nil, WrapError("CREATE", ErrCodeInvalidParameters, err)
	}
	device.runner = runner

	sched, err := New(runner, &Options{
		Clock:           options.Clock,
		Logger:          logger,
		Metrics:         device.metrics,
		Tunables:        params.Tunables,
		RequestPoolSize: params.RequestPoolSize,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	device.sched = sched
	runner.Attach(sched)

	if err := runner.Start(); err != nil {
		sched.Close()
		cancel()
		return nil, fmt.Errorf("failed to start dispatch runner: %w", err)
	}
	device.started = true

	logger.Info("device initialization complete",
		"nr_requests", params.NrRequests, "max_sectors", params.MaxSectors, "size", params.Backend.Size())
	return device, nil
}

// Submit queues bio and waits until it completes. bio.End, if set, is
// still called. Submit returns the I/O error of the request bio ended up
// in, or the context error when ctx is cancelled while throttled.
func (d *Device) Submit(ctx context.Context, bio *Bio) error {
	if d == nil || d.runner == nil {
		return ErrInvalidParameters
	}
	if d.ctx.Err() != nil {
		return NewError("SUBMIT", ErrCodeClosed, "device is stopped")
	}

	done := make(chan error, 1)
	end := bio.End
	bio.End = func(err error) {
		if end != nil {
			end(err)
		}
		done <- err
	}

	if err := d.runner.Submit(ctx, bio); err != nil {
		bio.End = end
		return submitError(ctx, err)
	}

	select {
	case err := <-done:
		if err != nil {
			return NewClassError("SUBMIT", classOf(bio.Ctx), bio.Ctx.Key, ErrCodeIOError, err.Error())
		}
		return nil
	case <-d.ctx.Done():
		return NewError("SUBMIT", ErrCodeClosed, "device stopped with I/O in flight")
	}
}

// SubmitAsync queues bio without waiting; bio.End reports the outcome
func (d *Device) SubmitAsync(ctx context.Context, bio *Bio) error {
	if d == nil || d.runner == nil {
		return ErrInvalidParameters
	}
	if err := d.runner.Submit(ctx, bio); err != nil {
		return submitError(ctx, err)
	}
	return nil
}

// submitError maps a block layer refusal onto the device's error codes
func submitError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, queue.ErrStopped):
		return WrapError("SUBMIT", ErrCodeClosed, err)
	case ctx.Err() != nil:
		return err
	}
	return WrapError("SUBMIT", ErrCodeInvalidParameters, err)
}

// DeviceState represents the current state of a device
type DeviceState string

const (
	// DeviceStateCreated indicates the device has been created but not started
	DeviceStateCreated DeviceState = "created"
	// DeviceStateRunning indicates the device is actively serving I/O
	DeviceStateRunning DeviceState = "running"
	// DeviceStateStopped indicates the device has been stopped
	DeviceStateStopped DeviceState = "stopped"
)

// State returns the current state of the device
func (d *Device) State() DeviceState {
	if d == nil {
		return DeviceStateStopped
	}
	if !d.started {
		return DeviceStateCreated
	}
	if d.ctx != nil && d.ctx.Err() != nil {
		return DeviceStateStopped
	}
	return DeviceStateRunning
}

// IsRunning returns true if the device is currently serving I/O
func (d *Device) IsRunning() bool {
	return d.State() == DeviceStateRunning
}

// Scheduler returns the device's scheduler, for tunables and statistics
func (d *Device) Scheduler() *Scheduler {
	if d == nil {
		return nil
	}
	return d.sched
}

// NrRequests returns the request budget of the device
func (d *Device) NrRequests() int {
	return d.nrRequests
}

// MaxSectors returns the largest request merging may build
func (d *Device) MaxSectors() uint64 {
	return d.maxSectors
}

// Size returns the size of the device in bytes
func (d *Device) Size() int64 {
	if d.Backend == nil {
		return 0
	}
	return d.Backend.Size()
}

// DeviceInfo describes a device
type DeviceInfo struct {
	State      DeviceState `json:"state"`
	NrRequests int         `json:"nr_requests"`
	MaxSectors uint64      `json:"max_sectors"`
	Size       int64       `json:"size"`
	Allocated  int         `json:"allocated"`
	Running    bool        `json:"running"`
}

// Info returns comprehensive information about the device
func (d *Device) Info() DeviceInfo {
	if d == nil {
		return DeviceInfo{}
	}

	state := d.State()
	info := DeviceInfo{
		State:      state,
		NrRequests: d.nrRequests,
		MaxSectors: d.maxSectors,
		Size:       d.Size(),
		Running:    state == DeviceStateRunning,
	}
	if d.runner != nil {
		info.Allocated = d.runner.Allocated()
	}
	return info
}

// Metrics returns the current metrics for the device
func (d *Device) Metrics() *Metrics {
	if d == nil {
		return nil
	}
	return d.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of device metrics
func (d *Device) MetricsSnapshot() MetricsSnapshot {
	if d == nil || d.metrics == nil {
		return MetricsSnapshot{}
	}
	return d.metrics.Snapshot()
}

// StopAndDelete stops the device: the I/O loop finishes the request in
// progress, then the scheduler is torn down. Requests still queued are
// dropped without completion. The backend is not closed.
func StopAndDelete(ctx context.Context, device *Device) error {
	if device == nil {
		return ErrInvalidParameters
	}

	var firstErr error
	if device.runner != nil {
		if err := device.runner.Stop(); err != nil {
			firstErr = WrapError("STOP", ErrCodeIOError, err)
		}
	}
	if device.cancel != nil {
		device.cancel()
	}
	if device.sched != nil {
		if err := device.sched.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if device.metrics != nil {
		device.metrics.Stop()
	}

	if firstErr != nil {
		device.logger.WithError(firstErr).Warn("device stopped uncleanly")
		return firstErr
	}
	device.logger.Info("device stopped")
	return nil
}
