package mavlink

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/Legell/UAV-System/internal/logger"
	"github.com/Legell/UAV-System/internal/metrics"
)

// GCS identity used as the source of every outgoing frame.
const (
	SourceSystem    = 250
	SourceComponent = 1
)

// Link is a single MAVLink endpoint to one vehicle. Recv and RecvMatch are
// not safe for concurrent callers; arbitration between the telemetry reader
// and the mission sequence is handled above this layer.
type Link interface {
	SendHeartbeat(typ common.MAV_TYPE, autopilot common.MAV_AUTOPILOT, baseMode common.MAV_MODE_FLAG, customMode uint32, state common.MAV_STATE) error
	Send(msg message.Message) error
	Recv(timeout time.Duration) (message.Message, error)
	RecvMatch(types []string, timeout time.Duration) (message.Message, error)
	Target() (system, component uint8)
	ModeMap() map[string]uint32
	Close()
}

// udpLink wraps a gomavlib node on a single UDP endpoint. gomavlib does the
// v2 framing, sequence numbers and message CRCs; partial frames surface as
// parse-error events and are dropped.
type udpLink struct {
	node    *gomavlib.Node
	address string

	mu              sync.RWMutex
	targetSystem    uint8
	targetComponent uint8
}

// Dial opens a MAVLink link over UDP to host:port. The peer replies to the
// ephemeral local port, so the same endpoint carries both directions.
func Dial(host string, port int) (Link, error) {
	address := fmt.Sprintf("%s:%d", host, port)

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointUDPClient{Address: address},
		},
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      SourceSystem,
		OutComponentID:   SourceComponent,
		HeartbeatDisable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MAVLink node for %s: %w", address, err)
	}

	logger.Debug("[LINK] Opened MAVLink UDP endpoint %s", address)
	return &udpLink{node: node, address: address}, nil
}

// TypeName extracts a clean message type name from a message,
// e.g. *common.MessageHeartbeat -> HEARTBEAT-style "Heartbeat".
func TypeName(msg message.Message) string {
	fullType := fmt.Sprintf("%T", msg)
	if idx := strings.Index(fullType, "Message"); idx >= 0 {
		return fullType[idx+len("Message"):]
	}
	return fullType
}

// SendHeartbeat transmits one GCS heartbeat to the peer.
func (l *udpLink) SendHeartbeat(typ common.MAV_TYPE, autopilot common.MAV_AUTOPILOT, baseMode common.MAV_MODE_FLAG, customMode uint32, state common.MAV_STATE) error {
	return l.Send(&common.MessageHeartbeat{
		Type:           typ,
		Autopilot:      autopilot,
		BaseMode:       baseMode,
		CustomMode:     customMode,
		SystemStatus:   state,
		MavlinkVersion: 3,
	})
}

func (l *udpLink) Send(msg message.Message) error {
	if err := l.node.WriteMessageAll(msg); err != nil {
		return fmt.Errorf("send %s on %s: %w", TypeName(msg), l.address, err)
	}
	metrics.Global.IncSent(TypeName(msg))
	return nil
}

// Recv waits up to timeout for the next message from the vehicle.
// Returns (nil, nil) on timeout. The target system/component is captured
// from the first heartbeat seen.
func (l *udpLink) Recv(timeout time.Duration) (message.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return nil, nil
		case event, ok := <-l.node.Events():
			if !ok {
				return nil, fmt.Errorf("link %s closed", l.address)
			}
			switch e := event.(type) {
			case *gomavlib.EventFrame:
				msg := e.Message()
				l.learnTarget(msg, e.SystemID(), e.ComponentID())
				metrics.Global.IncReceived(TypeName(msg))
				return msg, nil
			case *gomavlib.EventParseError:
				// Partial or corrupt frame, drop and keep reading
				logger.Debug("[LINK] Parse error on %s: %v", l.address, e.Error)
			case *gomavlib.EventChannelOpen:
				logger.Debug("[LINK] Channel opened on %s: %v", l.address, e.Channel)
			case *gomavlib.EventChannelClose:
				logger.Warn("[LINK] Channel closed on %s: %v", l.address, e.Channel)
			}
		}
	}
}

// RecvMatch waits up to timeout for a message whose type name is in types.
// Non-matching messages are consumed and dropped. Returns (nil, nil) on
// timeout.
func (l *udpLink) RecvMatch(types []string, timeout time.Duration) (message.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		msg, err := l.Recv(remaining)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, nil
		}
		name := TypeName(msg)
		for _, t := range types {
			if name == t {
				return msg, nil
			}
		}
	}
}

func (l *udpLink) learnTarget(msg message.Message, sysID, compID uint8) {
	if _, ok := msg.(*common.MessageHeartbeat); !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.targetSystem == 0 {
		l.targetSystem = sysID
		l.targetComponent = compID
		if l.targetComponent == 0 {
			l.targetComponent = 1 // MAV_COMP_ID_AUTOPILOT1
		}
		logger.Info("[LINK] %s: target system %d component %d", l.address, l.targetSystem, l.targetComponent)
	}
}

// Target returns the vehicle's system/component IDs learned from its first
// heartbeat, or zeros if none was received yet.
func (l *udpLink) Target() (uint8, uint8) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.targetSystem, l.targetComponent
}

func (l *udpLink) ModeMap() map[string]uint32 {
	return CopterModes
}

func (l *udpLink) Close() {
	logger.Debug("[LINK] Closing %s", l.address)
	l.node.Close()
}
