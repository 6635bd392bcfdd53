// Package telemetry contains the per-UAV ingest loop and the heartbeat
// liveness monitor.
package telemetry

import (
	"math"
	"strings"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/Legell/UAV-System/internal/logger"
	"github.com/Legell/UAV-System/internal/mavlink"
	"github.com/Legell/UAV-System/internal/uav"
)

// Reader consumes frames from one UAV's link and updates its registry
// record. It yields the link's recv side whenever the mission comm lock is
// held and survives transport errors without tearing the session down.
type Reader struct {
	reg  *uav.Registry
	id   string
	link mavlink.Link

	// Loop timing; defaults match the cooperative arbitration contract.
	RecvTimeout time.Duration
	YieldDelay  time.Duration
	ErrorDelay  time.Duration
}

func NewReader(reg *uav.Registry, id string, link mavlink.Link) *Reader {
	return &Reader{
		reg:         reg,
		id:          id,
		link:        link,
		RecvTimeout: 1 * time.Second,
		YieldDelay:  50 * time.Millisecond,
		ErrorDelay:  1 * time.Second,
	}
}

// Run loops until the record is marked disconnected or removed. Intended to
// be launched as a goroutine per UAV.
func (r *Reader) Run() {
	logger.Info("[TELEMETRY] Reader started for %s", r.id)
	defer logger.Info("[TELEMETRY] Reader stopped for %s", r.id)

	for {
		rec, ok := r.reg.Get(r.id)
		if !ok || !rec.Connected {
			return
		}
		if rec.MissionCommLock || !rec.TelemetryEnabled {
			time.Sleep(r.YieldDelay)
			continue
		}

		msg, err := r.link.Recv(r.RecvTimeout)
		if err != nil {
			// Keep the session; the heartbeat monitor owns liveness.
			logger.Warn("[TELEMETRY] %s recv error: %v", r.id, err)
			r.reg.Update(r.id, func(u *uav.UAV) { u.Status = uav.StatusOffline })
			time.Sleep(r.ErrorDelay)
			continue
		}
		if msg == nil {
			continue
		}
		r.dispatch(msg)
	}
}

func (r *Reader) dispatch(msg message.Message) {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		r.reg.Update(r.id, func(u *uav.UAV) {
			u.LastHeartbeat = time.Now().UTC()
			u.Status = uav.StatusOnline
		})

	case *common.MessageGlobalPositionInt:
		r.reg.Update(r.id, func(u *uav.UAV) {
			u.Lat = float64(m.Lat) / 1e7
			u.Lon = float64(m.Lon) / 1e7
			u.Alt = float64(m.RelativeAlt) / 1000.0
			u.Heading = int(m.Hdg) / 100
		})

	case *common.MessageVfrHud:
		r.reg.Update(r.id, func(u *uav.UAV) {
			u.GroundSpeed = float64(m.Groundspeed)
		})

	case *common.MessageGpsRawInt:
		r.reg.Update(r.id, func(u *uav.UAV) {
			u.GPSFix = int(m.FixType)
			u.Satellites = int(m.SatellitesVisible)
		})

	case *common.MessageSysStatus:
		r.reg.Update(r.id, func(u *uav.UAV) {
			if m.BatteryRemaining >= 0 {
				percent := int(m.BatteryRemaining)
				u.BatteryPercent = &percent
			}
			if m.VoltageBattery > 0 {
				voltage := math.Round(float64(m.VoltageBattery)/1000.0*100) / 100
				u.BatteryVoltage = &voltage
			}
		})

	case *common.MessageMissionCurrent:
		r.reg.Update(r.id, func(u *uav.UAV) {
			if u.MissionStatus == uav.MissionStopped {
				// A stop verdict is final; late progress reports must
				// not resurrect the mission.
				return
			}
			seq := int(m.Seq)
			if u.MissionTotal > 0 && seq > u.MissionTotal-1 {
				// Malformed report; clamp so seq never exceeds the plan
				seq = u.MissionTotal - 1
			}
			u.MissionCurrentSeq = seq
			if u.MissionTotal > 0 {
				progress := float64(seq+1) / float64(u.MissionTotal)
				u.MissionProgress = math.Min(1, math.Max(0, progress))
			}
			if u.MissionTotal > 0 && seq >= u.MissionTotal-1 {
				u.MissionStatus = uav.MissionCompleted
				u.MissionPhase = uav.PhaseCompleted
			}
			u.LastMissionUpdate = time.Now().UTC()
		})

	case *common.MessageStatustext:
		text := strings.ToLower(m.Text)
		if strings.Contains(text, "mission complete") || strings.Contains(text, "landed") {
			r.reg.Update(r.id, func(u *uav.UAV) {
				if u.MissionStatus == uav.MissionStopped {
					return
				}
				u.MissionStatus = uav.MissionCompleted
				u.MissionPhase = uav.PhaseCompleted
				u.LastMissionUpdate = time.Now().UTC()
			})
		}
		logger.Debug("[TELEMETRY] %s STATUSTEXT [%d]: %s", r.id, m.Severity, m.Text)
	}
}
