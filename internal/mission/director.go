package mission

import (
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/Legell/UAV-System/internal/logger"
	"github.com/Legell/UAV-System/internal/mavlink"
	"github.com/Legell/UAV-System/internal/uav"
)

// preArmModes are tried in order when picking the mode to arm in.
var preArmModes = []string{"GUIDED", "LOITER", "STABILIZE", "ALT_HOLD"}

// stopModes are tried in order when halting a running mission.
var stopModes = []string{"BRAKE", "LOITER", "ALT_HOLD"}

// Director drives the arm / set-mode / MISSION_START sequence. Heartbeat
// reads verify every transition, so the caller must hold the comm lock
// for everything except StopMission.
type Director struct {
	link mavlink.Link

	ModeTimeout time.Duration
	ArmTimeout  time.Duration
	ArmedCheck  time.Duration
}

func NewDirector(link mavlink.Link) *Director {
	return &Director{
		link:        link,
		ModeTimeout: 10 * time.Second,
		ArmTimeout:  10 * time.Second,
		ArmedCheck:  3 * time.Second,
	}
}

// Execute runs the full start sequence. Failures come back as *StepError
// carrying the mission phase to record.
func (d *Director) Execute() error {
	armed, err := d.isArmed()
	if err != nil {
		return &StepError{Phase: uav.PhaseException, Err: err}
	}

	if !armed {
		preArm := d.preArmMode()
		logger.Info("[DIRECTOR] Vehicle disarmed, pre-arm mode %s", preArm)
		if err := d.SetMode(preArm); err != nil {
			return &StepError{Phase: uav.PhaseModeError, Err: err}
		}
		if err := d.Arm(true); err != nil {
			return &StepError{Phase: uav.PhaseArmError, Err: err}
		}
	}

	if err := d.SetMode("AUTO"); err != nil {
		return &StepError{Phase: uav.PhaseModeAutoError, Err: err}
	}

	if err := d.commandLong(common.MAV_CMD_MISSION_START, 0); err != nil {
		return &StepError{Phase: uav.PhaseException, Err: err}
	}

	logger.Info("[DIRECTOR] Mission start commanded")
	return nil
}

// preArmMode picks the first known pre-arm mode from the link's mode map,
// falling back to any mapped mode.
func (d *Director) preArmMode() string {
	modes := d.link.ModeMap()
	for _, name := range preArmModes {
		if _, ok := modes[name]; ok {
			return name
		}
	}
	for name := range modes {
		return name
	}
	return ""
}

// isArmed reads heartbeats for up to ArmedCheck and reports the
// SAFETY_ARMED flag. No heartbeat within the window counts as disarmed.
func (d *Director) isArmed() (bool, error) {
	msg, err := d.link.RecvMatch([]string{"Heartbeat"}, d.ArmedCheck)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	hb := msg.(*common.MessageHeartbeat)
	return hb.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0, nil
}

// SetMode switches the custom flight mode and verifies the change against
// subsequent heartbeats. Success requires a heartbeat echoing the target
// custom_mode before ModeTimeout.
func (d *Director) SetMode(name string) error {
	mode, ok := d.link.ModeMap()[name]
	if !ok {
		return fmt.Errorf("mode %s not in mode map", name)
	}
	if err := d.sendSetMode(mode); err != nil {
		return err
	}

	deadline := time.Now().Add(d.ModeTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("no heartbeat confirming mode %s: %w", name, ErrTimeout)
		}
		msg, err := d.link.RecvMatch([]string{"Heartbeat"}, remaining)
		if err != nil {
			return err
		}
		if msg == nil {
			return fmt.Errorf("no heartbeat confirming mode %s: %w", name, ErrTimeout)
		}
		if msg.(*common.MessageHeartbeat).CustomMode == mode {
			logger.Info("[DIRECTOR] Mode %s confirmed", name)
			return nil
		}
	}
}

func (d *Director) sendSetMode(mode uint32) error {
	sys, _ := d.link.Target()
	return d.link.Send(&common.MessageSetMode{
		TargetSystem: sys,
		BaseMode:     common.MAV_MODE(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		CustomMode:   mode,
	})
}

// Arm requests arming (or disarming) and waits for a heartbeat whose
// SAFETY_ARMED flag matches. COMMAND_ACK and STATUSTEXT are logged but the
// heartbeat flag is the authoritative signal.
func (d *Director) Arm(arm bool) error {
	param := float32(0)
	if arm {
		param = 1
	}
	if err := d.commandLong(common.MAV_CMD_COMPONENT_ARM_DISARM, param); err != nil {
		return err
	}

	deadline := time.Now().Add(d.ArmTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("no heartbeat confirming armed=%v: %w", arm, ErrTimeout)
		}
		msg, err := d.link.Recv(remaining)
		if err != nil {
			return err
		}
		if msg == nil {
			return fmt.Errorf("no heartbeat confirming armed=%v: %w", arm, ErrTimeout)
		}
		switch m := msg.(type) {
		case *common.MessageHeartbeat:
			isArmed := m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
			if isArmed == arm {
				logger.Info("[DIRECTOR] Armed state confirmed: %v", arm)
				return nil
			}
		case *common.MessageCommandAck:
			logger.Info("[DIRECTOR] COMMAND_ACK command=%d result=%d", m.Command, m.Result)
		case *common.MessageStatustext:
			logger.Info("[DIRECTOR] STATUSTEXT [%d]: %s", m.Severity, m.Text)
		}
	}
}

// StopMission halts execution by switching to the first available stop
// mode, send-only: no heartbeat verification, to avoid contending with the
// telemetry reader for the link. Falls back to a loiter command when the
// mode map offers none of the stop modes.
func (d *Director) StopMission() error {
	modes := d.link.ModeMap()
	for _, name := range stopModes {
		mode, ok := modes[name]
		if !ok {
			continue
		}
		logger.Info("[DIRECTOR] Stopping mission via mode %s", name)
		return d.sendSetMode(mode)
	}
	logger.Info("[DIRECTOR] Stopping mission via NAV_LOITER_UNLIM")
	return d.commandLong(common.MAV_CMD_NAV_LOITER_UNLIM, 0)
}

func (d *Director) commandLong(cmd common.MAV_CMD, param1 float32) error {
	sys, comp := d.link.Target()
	return d.link.Send(&common.MessageCommandLong{
		TargetSystem:    sys,
		TargetComponent: comp,
		Command:         cmd,
		Param1:          param1,
	})
}
