package mission

import (
	"errors"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/Legell/UAV-System/internal/mavlink/mavlinktest"
	"github.com/Legell/UAV-System/internal/uav"
)

func newTestDirector(link *mavlinktest.FakeLink) *Director {
	d := NewDirector(link)
	d.ModeTimeout = 100 * time.Millisecond
	d.ArmTimeout = 100 * time.Millisecond
	d.ArmedCheck = 20 * time.Millisecond
	return d
}

func heartbeat(customMode uint32, armed bool) *common.MessageHeartbeat {
	hb := &common.MessageHeartbeat{
		Type:       common.MAV_TYPE_QUADROTOR,
		CustomMode: customMode,
	}
	if armed {
		hb.BaseMode = common.MAV_MODE_FLAG_SAFETY_ARMED
	}
	return hb
}

func TestSetModeConfirmedByHeartbeat(t *testing.T) {
	link := mavlinktest.New()
	link.OnSend = func(msg message.Message) {
		if m, ok := msg.(*common.MessageSetMode); ok {
			link.Incoming <- heartbeat(m.CustomMode, false)
		}
	}

	if err := newTestDirector(link).SetMode("GUIDED"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	sent := link.Sent()
	sm, ok := sent[0].(*common.MessageSetMode)
	if !ok || sm.CustomMode != 4 {
		t.Fatalf("expected SET_MODE custom_mode=4, got %T %+v", sent[0], sent[0])
	}
}

func TestSetModeIgnoresWrongModeHeartbeats(t *testing.T) {
	link := mavlinktest.New()
	link.Incoming <- heartbeat(0, false) // stale STABILIZE heartbeat
	link.OnSend = func(msg message.Message) {
		if m, ok := msg.(*common.MessageSetMode); ok {
			link.Incoming <- heartbeat(m.CustomMode, false)
		}
	}

	if err := newTestDirector(link).SetMode("LOITER"); err != nil {
		t.Fatalf("SetMode after stale heartbeat: %v", err)
	}
}

func TestSetModeTimeout(t *testing.T) {
	link := mavlinktest.New()
	d := newTestDirector(link)
	d.ModeTimeout = 30 * time.Millisecond

	err := d.SetMode("GUIDED")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout without confirming heartbeat, got %v", err)
	}
}

func TestSetModeUnknownName(t *testing.T) {
	link := mavlinktest.New()
	if err := newTestDirector(link).SetMode("WARP"); err == nil {
		t.Fatal("unknown mode name must fail before sending")
	}
	if len(link.Sent()) != 0 {
		t.Error("nothing should be sent for an unknown mode")
	}
}

func TestArmConfirmedByHeartbeatFlag(t *testing.T) {
	link := mavlinktest.New()
	link.OnSend = func(msg message.Message) {
		if m, ok := msg.(*common.MessageCommandLong); ok && m.Command == common.MAV_CMD_COMPONENT_ARM_DISARM {
			// Ack first; the heartbeat flag is what settles it
			link.Incoming <- &common.MessageCommandAck{Command: m.Command, Result: common.MAV_RESULT_ACCEPTED}
			link.Incoming <- heartbeat(4, true)
		}
	}

	if err := newTestDirector(link).Arm(true); err != nil {
		t.Fatalf("Arm: %v", err)
	}
}

func TestArmAckAloneIsNotEnough(t *testing.T) {
	link := mavlinktest.New()
	d := newTestDirector(link)
	d.ArmTimeout = 30 * time.Millisecond
	link.OnSend = func(msg message.Message) {
		if m, ok := msg.(*common.MessageCommandLong); ok {
			link.Incoming <- &common.MessageCommandAck{Command: m.Command, Result: common.MAV_RESULT_ACCEPTED}
		}
	}

	err := d.Arm(true)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ack without armed heartbeat must time out, got %v", err)
	}
}

func TestExecuteFromDisarmed(t *testing.T) {
	link := mavlinktest.New()
	link.Incoming <- heartbeat(0, false) // armed check sees a disarmed vehicle
	link.OnSend = func(msg message.Message) {
		switch m := msg.(type) {
		case *common.MessageSetMode:
			armed := m.CustomMode == 3 // by the AUTO switch we are armed
			link.Incoming <- heartbeat(m.CustomMode, armed)
		case *common.MessageCommandLong:
			if m.Command == common.MAV_CMD_COMPONENT_ARM_DISARM {
				link.Incoming <- heartbeat(4, true)
			}
		}
	}

	if err := newTestDirector(link).Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	sent := link.Sent()
	if len(sent) != 4 {
		t.Fatalf("expected pre-arm mode, arm, auto, start; got %d messages", len(sent))
	}
	if sm, ok := sent[0].(*common.MessageSetMode); !ok || sm.CustomMode != 4 {
		t.Errorf("first message should switch to GUIDED, got %T %+v", sent[0], sent[0])
	}
	if cl, ok := sent[1].(*common.MessageCommandLong); !ok || cl.Command != common.MAV_CMD_COMPONENT_ARM_DISARM || cl.Param1 != 1 {
		t.Errorf("second message should arm, got %T %+v", sent[1], sent[1])
	}
	if sm, ok := sent[2].(*common.MessageSetMode); !ok || sm.CustomMode != 3 {
		t.Errorf("third message should switch to AUTO, got %T %+v", sent[2], sent[2])
	}
	if cl, ok := sent[3].(*common.MessageCommandLong); !ok || cl.Command != common.MAV_CMD_MISSION_START {
		t.Errorf("fourth message should be MISSION_START, got %T %+v", sent[3], sent[3])
	}
}

func TestExecuteSkipsArmWhenArmed(t *testing.T) {
	link := mavlinktest.New()
	link.Incoming <- heartbeat(4, true)
	link.OnSend = func(msg message.Message) {
		if m, ok := msg.(*common.MessageSetMode); ok {
			link.Incoming <- heartbeat(m.CustomMode, true)
		}
	}

	if err := newTestDirector(link).Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	for _, msg := range link.Sent() {
		if cl, ok := msg.(*common.MessageCommandLong); ok && cl.Command == common.MAV_CMD_COMPONENT_ARM_DISARM {
			t.Fatal("armed vehicle must not be re-armed")
		}
	}
}

func TestExecuteModeFailurePhase(t *testing.T) {
	link := mavlinktest.New()
	link.Incoming <- heartbeat(0, false)
	d := newTestDirector(link)
	d.ModeTimeout = 30 * time.Millisecond

	err := d.Execute()
	var step *StepError
	if !errors.As(err, &step) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if step.Phase != uav.PhaseModeError {
		t.Errorf("phase: got %s, want %s", step.Phase, uav.PhaseModeError)
	}
}

func TestExecuteAutoModeFailurePhase(t *testing.T) {
	link := mavlinktest.New()
	link.Incoming <- heartbeat(4, true) // armed in GUIDED, AUTO switch never confirms
	d := newTestDirector(link)
	d.ModeTimeout = 30 * time.Millisecond

	err := d.Execute()
	var step *StepError
	if !errors.As(err, &step) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if step.Phase != uav.PhaseModeAutoError {
		t.Errorf("phase: got %s, want %s", step.Phase, uav.PhaseModeAutoError)
	}
}

func TestStopMissionUsesBrake(t *testing.T) {
	link := mavlinktest.New()

	if err := newTestDirector(link).StopMission(); err != nil {
		t.Fatalf("StopMission: %v", err)
	}

	sent := link.Sent()
	if len(sent) != 1 {
		t.Fatalf("stop must be send-only, got %d messages", len(sent))
	}
	sm, ok := sent[0].(*common.MessageSetMode)
	if !ok || sm.CustomMode != 17 {
		t.Fatalf("expected SET_MODE BRAKE (17), got %T %+v", sent[0], sent[0])
	}
}

func TestStopMissionLoiterFallback(t *testing.T) {
	link := mavlinktest.New()
	link.Modes = map[string]uint32{"GUIDED": 4, "AUTO": 3}

	if err := newTestDirector(link).StopMission(); err != nil {
		t.Fatalf("StopMission: %v", err)
	}

	sent := link.Sent()
	cl, ok := sent[0].(*common.MessageCommandLong)
	if !ok || cl.Command != common.MAV_CMD_NAV_LOITER_UNLIM {
		t.Fatalf("expected NAV_LOITER_UNLIM fallback, got %T %+v", sent[0], sent[0])
	}
}

func TestWithCommLock(t *testing.T) {
	reg := uav.NewRegistry()
	reg.Insert(uav.New("uav_14550", "a", 14550), nil)

	var lockedDuring bool
	err := WithCommLock(reg, "uav_14550", func() error {
		rec, _ := reg.Get("uav_14550")
		lockedDuring = rec.MissionCommLock
		return nil
	})
	if err != nil {
		t.Fatalf("WithCommLock: %v", err)
	}
	if !lockedDuring {
		t.Error("comm lock not held during fn")
	}

	rec, _ := reg.Get("uav_14550")
	if rec.MissionCommLock {
		t.Error("comm lock not released after fn")
	}
}

func TestWithCommLockReleasedOnError(t *testing.T) {
	reg := uav.NewRegistry()
	reg.Insert(uav.New("uav_14550", "a", 14550), nil)

	wantErr := errors.New("boom")
	if err := WithCommLock(reg, "uav_14550", func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error passthrough, got %v", err)
	}

	rec, _ := reg.Get("uav_14550")
	if rec.MissionCommLock {
		t.Error("comm lock leaked after error")
	}

	if err := WithCommLock(reg, "missing", func() error { return nil }); err == nil {
		t.Error("unknown id should fail")
	}
}
