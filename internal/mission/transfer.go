package mission

import (
	"fmt"
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/Legell/UAV-System/internal/logger"
	"github.com/Legell/UAV-System/internal/mavlink"
	"github.com/Legell/UAV-System/internal/metrics"
	"github.com/Legell/UAV-System/internal/plan"
)

// Commands whose MISSION_ITEM_INT x/y fields stay zero.
var coordlessCommands = map[int]bool{
	plan.CmdNavReturnToLaunch: true,
	plan.CmdNavLand:           true,
	plan.CmdNavSplineWaypoint: true,
	plan.CmdDoJump:            true,
}

// Transfer executes the MAVLink mission upload handshake on one link. The
// caller must hold the comm lock for the UAV; Transfer owns the link's recv
// side for its whole duration.
type Transfer struct {
	link mavlink.Link

	TimeoutRequest time.Duration
	TimeoutAck     time.Duration
	// ClearDelay after MISSION_CLEAR_ALL also absorbs the telemetry
	// reader's final recv before it observes the comm lock.
	ClearDelay time.Duration
}

func NewTransfer(link mavlink.Link) *Transfer {
	return &Transfer{
		link:           link,
		TimeoutRequest: 10 * time.Second,
		TimeoutAck:     5 * time.Second,
		ClearDelay:     1 * time.Second,
	}
}

// WithHome prepends a synthetic home item when the plan carries a valid
// planned home position. Home is always seq 0, frame GLOBAL.
func WithHome(items []plan.Item, doc *plan.Document) []plan.Item {
	if doc == nil {
		return items
	}
	lat, lon, alt, ok := doc.Home()
	if !ok {
		return items
	}
	home := plan.Item{
		Seq:          0,
		Command:      plan.CmdNavWaypoint,
		Frame:        0, // MAV_FRAME_GLOBAL
		AutoContinue: true,
		Params:       [7]float64{0, 0, 0, 0, lat, lon, alt},
		Lat:          &lat,
		Lon:          &lon,
		Alt:          &alt,
	}
	return append([]plan.Item{home}, items...)
}

// Upload runs clear, count, the request/item loop and the final ack. A
// missing final MISSION_ACK is tolerated; some autopilots omit it after
// all items were delivered.
func (t *Transfer) Upload(items []plan.Item) error {
	sys, comp := t.link.Target()
	n := len(items)

	logger.Info("[MISSION] Uploading %d items to system %d", n, sys)

	if err := t.link.Send(&common.MessageMissionClearAll{
		TargetSystem:    sys,
		TargetComponent: comp,
	}); err != nil {
		return fmt.Errorf("mission clear: %w", err)
	}
	time.Sleep(t.ClearDelay)

	if err := t.link.Send(&common.MessageMissionCount{
		TargetSystem:    sys,
		TargetComponent: comp,
		Count:           uint16(n),
	}); err != nil {
		return fmt.Errorf("mission count: %w", err)
	}

	for i := 0; i < n; i++ {
		msg, err := t.link.RecvMatch([]string{"MissionRequestInt", "MissionRequest"}, t.TimeoutRequest)
		if err != nil {
			return fmt.Errorf("awaiting mission request: %w", err)
		}
		if msg == nil {
			return fmt.Errorf("no mission request after item %d/%d: %w", i, n, ErrTimeout)
		}

		var seq int
		switch req := msg.(type) {
		case *common.MessageMissionRequestInt:
			seq = int(req.Seq)
		case *common.MessageMissionRequest:
			seq = int(req.Seq)
		}
		if seq >= n {
			return fmt.Errorf("requested seq %d out of range (count %d): %w", seq, n, ErrProtocolViolation)
		}

		if err := t.sendItem(seq, items[seq], sys, comp); err != nil {
			return err
		}
	}

	ack, err := t.link.RecvMatch([]string{"MissionAck"}, t.TimeoutAck)
	if err != nil {
		return fmt.Errorf("awaiting mission ack: %w", err)
	}
	switch {
	case ack == nil:
		logger.Warn("[MISSION] No MISSION_ACK received, assuming upload complete")
	default:
		if a := ack.(*common.MessageMissionAck); a.Type != common.MAV_MISSION_ACCEPTED {
			logger.Warn("[MISSION] MISSION_ACK type=%d, items are on board regardless", a.Type)
		} else {
			logger.Info("[MISSION] Upload accepted by system %d", sys)
		}
	}

	metrics.Global.IncMissionUpload(true)
	return nil
}

func (t *Transfer) sendItem(seq int, item plan.Item, sys, comp uint8) error {
	var x, y int32
	switch {
	case coordlessCommands[item.Command]:
		// x/y stay zero
	case item.Lat != nil && item.Lon != nil:
		x = int32(math.Round(*item.Lat * 1e7))
		y = int32(math.Round(*item.Lon * 1e7))
	case item.Command == plan.CmdNavWaypoint:
		return fmt.Errorf("waypoint seq %d has no coordinates: %w", seq, ErrProtocolViolation)
	default:
		logger.Warn("[MISSION] Item seq %d (command %d) has no coordinates, sending zeros", seq, item.Command)
	}

	alt := item.Params[6]
	if item.Alt != nil {
		alt = *item.Alt
	}

	msg := &common.MessageMissionItemInt{
		TargetSystem:    sys,
		TargetComponent: comp,
		Seq:             uint16(seq),
		Frame:           common.MAV_FRAME(item.Frame),
		Command:         common.MAV_CMD(item.Command),
		Current:         0,
		Autocontinue:    1,
		Param1:          float32(item.Params[0]),
		Param2:          float32(item.Params[1]),
		Param3:          float32(item.Params[2]),
		Param4:          float32(item.Params[3]),
		X:               x,
		Y:               y,
		Z:               float32(alt),
	}
	if err := t.link.Send(msg); err != nil {
		return fmt.Errorf("mission item %d: %w", seq, err)
	}
	logger.Debug("[MISSION] Sent item %d: command=%d x=%d y=%d z=%.1f", seq, item.Command, x, y, alt)
	return nil
}
