package motor

import (
	"context"
	"sync/atomic"
)

// StopIndicator is polled by every wait loop. Once it reports true the
// running operation stops its motors and returns ErrCancelled.
type StopIndicator interface {
	StopRequested() bool
}

// Flag is a StopIndicator raised by Stop and lowered by Restore.
type Flag struct {
	stop atomic.Bool
}

func (f *Flag) Stop()               { f.stop.Store(true) }
func (f *Flag) Restore()            { f.stop.Store(false) }
func (f *Flag) StopRequested() bool { return f.stop.Load() }

type contextStop struct{ ctx context.Context }

func (c contextStop) StopRequested() bool { return c.ctx.Err() != nil }

// ContextStop adapts ctx: cancellation or deadline expiry requests a stop.
func ContextStop(ctx context.Context) StopIndicator { return contextStop{ctx} }

func stopRequested(s StopIndicator) bool {
	return s != nil && s.StopRequested()
}

// WaitReporter follows the progress of a group move. SetWaitList names the
// motors still expected; MotorDone is called as each of them arrives.
type WaitReporter interface {
	SetWaitList(names []string)
	MotorDone(name string)
}

// MoveOptions controls GoTo and Go.
type MoveOptions struct {
	// Wait blocks until the motor stands.
	Wait bool
	// Check refuses destinations outside the soft limits instead of
	// clamping them. Combined with Wait it also verifies the arrival
	// position against the controller tolerance.
	Check    bool
	Stop     StopIndicator
	Reporter WaitReporter
}

func (o MoveOptions) done(name string) {
	if o.Reporter != nil {
		o.Reporter.MotorDone(name)
	}
}
