// Package uav holds the canonical in-memory UAV registry and the record
// every other component reads and writes through it.
package uav

import (
	"time"

	"github.com/Legell/UAV-System/internal/plan"
)

// Status is the link liveness verdict of the heartbeat monitor.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// MissionStatus is the coarse mission execution state.
type MissionStatus string

const (
	MissionIdle      MissionStatus = "idle"
	MissionStarting  MissionStatus = "starting"
	MissionRunning   MissionStatus = "running"
	MissionCompleted MissionStatus = "completed"
	MissionStopped   MissionStatus = "stopped"
	MissionError     MissionStatus = "error"
)

// Fine-grained mission phase tags.
const (
	PhaseUploading     = "uploading"
	PhaseInProgress    = "in_progress"
	PhaseCompleted     = "completed"
	PhaseStopped       = "stopped"
	PhaseUploadError   = "upload_error"
	PhaseModeError     = "mode_error"
	PhaseModeAutoError = "mode_auto_error"
	PhaseArmError      = "arm_error"
	PhaseException     = "exception"
	PhaseTimeout       = "timeout"
)

// UAV is the record for one connected vehicle. All reads and writes go
// through the registry lock; snapshots handed out are by-value copies.
type UAV struct {
	ID   string `json:"uav_id"`
	Name string `json:"name"`
	Port int    `json:"port"`

	Connected     bool      `json:"connected"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`

	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Alt         float64 `json:"alt"`
	Heading     int     `json:"heading"`
	GroundSpeed float64 `json:"ground_speed"`

	GPSFix     int `json:"gps_fix"`
	Satellites int `json:"satellites"`

	BatteryPercent *int     `json:"battery_percent"`
	BatteryVoltage *float64 `json:"battery_voltage"`

	Mission []plan.Item `json:"mission"`
	// PlanRaw is the last uploaded plan document; treated as read-only
	// once stored.
	PlanRaw *plan.Document `json:"-"`

	MissionStatus     MissionStatus `json:"mission_status"`
	MissionPhase      string        `json:"mission_phase"`
	MissionTotal      int           `json:"mission_total"`
	MissionCurrentSeq int           `json:"mission_current_seq"`
	MissionProgress   float64       `json:"mission_progress"`
	LastMissionUpdate time.Time     `json:"last_mission_update"`

	// MissionCommLock signals the telemetry reader to stay off the
	// link's recv side while a mission sequence owns it.
	MissionCommLock  bool `json:"-"`
	TelemetryEnabled bool `json:"-"`
}

// New builds a record with the discovery defaults: zeroed telemetry, null
// battery, empty mission, idle mission state.
func New(id, name string, port int) *UAV {
	return &UAV{
		ID:                id,
		Name:              name,
		Port:              port,
		Connected:         true,
		Status:            StatusOnline,
		LastHeartbeat:     time.Now().UTC(),
		Mission:           []plan.Item{},
		MissionStatus:     MissionIdle,
		MissionCurrentSeq: -1,
		TelemetryEnabled:  true,
	}
}

// clone returns a by-value copy with its own mission slice and battery
// pointers.
func (u *UAV) clone() UAV {
	c := *u
	if u.Mission != nil {
		c.Mission = append([]plan.Item(nil), u.Mission...)
	}
	if u.BatteryPercent != nil {
		v := *u.BatteryPercent
		c.BatteryPercent = &v
	}
	if u.BatteryVoltage != nil {
		v := *u.BatteryVoltage
		c.BatteryVoltage = &v
	}
	return c
}
