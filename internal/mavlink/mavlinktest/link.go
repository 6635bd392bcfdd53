// Package mavlinktest provides a scripted in-memory Link for protocol tests.
package mavlinktest

import (
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/Legell/UAV-System/internal/mavlink"
)

// FakeLink implements mavlink.Link against an in-memory message queue.
// Tests preload Incoming or use OnSend to script the vehicle's replies.
type FakeLink struct {
	Incoming chan message.Message

	// OnSend, when set, is invoked synchronously for every outgoing
	// message so tests can script the peer's reaction.
	OnSend func(msg message.Message)

	TargetSystem    uint8
	TargetComponent uint8
	Modes           map[string]uint32

	mu        sync.Mutex
	sent      []message.Message
	recvCalls int
	closed    bool
}

func New() *FakeLink {
	return &FakeLink{
		Incoming:        make(chan message.Message, 64),
		TargetSystem:    1,
		TargetComponent: 1,
		Modes:           mavlink.CopterModes,
	}
}

func (l *FakeLink) SendHeartbeat(typ common.MAV_TYPE, autopilot common.MAV_AUTOPILOT, baseMode common.MAV_MODE_FLAG, customMode uint32, state common.MAV_STATE) error {
	return l.Send(&common.MessageHeartbeat{
		Type:           typ,
		Autopilot:      autopilot,
		BaseMode:       baseMode,
		CustomMode:     customMode,
		SystemStatus:   state,
		MavlinkVersion: 3,
	})
}

func (l *FakeLink) Send(msg message.Message) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("link closed")
	}
	l.sent = append(l.sent, msg)
	hook := l.OnSend
	l.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

func (l *FakeLink) Recv(timeout time.Duration) (message.Message, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, fmt.Errorf("link closed")
	}
	l.recvCalls++
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-l.Incoming:
		return msg, nil
	case <-timer.C:
		return nil, nil
	}
}

func (l *FakeLink) RecvMatch(types []string, timeout time.Duration) (message.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		msg, err := l.Recv(remaining)
		if err != nil || msg == nil {
			return msg, err
		}
		name := mavlink.TypeName(msg)
		for _, t := range types {
			if name == t {
				return msg, nil
			}
		}
	}
}

func (l *FakeLink) Target() (uint8, uint8) {
	return l.TargetSystem, l.TargetComponent
}

func (l *FakeLink) ModeMap() map[string]uint32 {
	return l.Modes
}

func (l *FakeLink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// Sent returns a copy of every message written to the link so far.
func (l *FakeLink) Sent() []message.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]message.Message, len(l.sent))
	copy(out, l.sent)
	return out
}

// RecvCalls reports how many times Recv was entered.
func (l *FakeLink) RecvCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recvCalls
}
