// Package mission implements the MAVLink mission upload handshake, the
// arm/mode/start sequencer and the link arbitration between them and the
// telemetry reader.
package mission

import (
	"errors"
	"fmt"

	"github.com/Legell/UAV-System/internal/uav"
)

var (
	// ErrTimeout marks an expected protocol message that never arrived.
	ErrTimeout = errors.New("protocol timeout")
	// ErrProtocolViolation marks an out-of-range request or an item that
	// cannot be encoded.
	ErrProtocolViolation = errors.New("protocol violation")
)

// StepError tags a failed sequence step with the mission phase to record.
type StepError struct {
	Phase string
	Err   error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Phase, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// WithCommLock runs fn while the UAV's mission comm lock is set. The
// telemetry reader observes the flag at its next loop boundary and stays
// off the link's recv side; the lock is cleared on every exit path.
//
// This is cooperative, not preemptive: up to one reader recv timeout of
// overlap is possible, which the transfer's initial clear-and-wait absorbs.
func WithCommLock(reg *uav.Registry, id string, fn func() error) error {
	if !reg.Update(id, func(u *uav.UAV) { u.MissionCommLock = true }) {
		return fmt.Errorf("unknown uav %s", id)
	}
	defer reg.Update(id, func(u *uav.UAV) { u.MissionCommLock = false })
	return fn()
}
