// Package gcs exposes the core operations the HTTP facade calls: registry
// snapshots, mission caching, plan upload and the mission start/stop
// workflows.
package gcs

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Legell/UAV-System/internal/discovery"
	"github.com/Legell/UAV-System/internal/logger"
	"github.com/Legell/UAV-System/internal/mavlink"
	"github.com/Legell/UAV-System/internal/metrics"
	"github.com/Legell/UAV-System/internal/mission"
	"github.com/Legell/UAV-System/internal/plan"
	"github.com/Legell/UAV-System/internal/uav"
)

var (
	ErrNotFound          = errors.New("uav not found")
	ErrLinkUnavailable   = errors.New("no open link for uav")
	ErrMissionEmpty      = errors.New("mission is empty")
	ErrMissionInProgress = errors.New("mission already in progress")
)

const coordEpsilon = 1e-7

// Service ties the registry, discovery and the mission machinery together
// behind a transport-agnostic API.
type Service struct {
	reg  *uav.Registry
	disc *discovery.Discovery

	// Factories are injectable for tests.
	NewTransfer func(link mavlink.Link) *mission.Transfer
	NewDirector func(link mavlink.Link) *mission.Director
}

func NewService(reg *uav.Registry, disc *discovery.Discovery) *Service {
	return &Service{
		reg:         reg,
		disc:        disc,
		NewTransfer: mission.NewTransfer,
		NewDirector: mission.NewDirector,
	}
}

// ListUAVs returns snapshots of every registered UAV, sorted by port.
func (s *Service) ListUAVs() []uav.UAV {
	return s.reg.SnapshotAll()
}

// GetMission returns the cached mission items for the UAV.
func (s *Service) GetMission(id string) ([]plan.Item, error) {
	rec, ok := s.reg.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return rec.Mission, nil
}

// SetMission replaces the cached mission items.
func (s *Service) SetMission(id string, items []plan.Item) error {
	if items == nil {
		items = []plan.Item{}
	}
	ok := s.reg.Update(id, func(u *uav.UAV) {
		u.Mission = append([]plan.Item(nil), items...)
	})
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

// UploadPlan parses a QGC .plan document, caches it on the record and
// returns the mission items plus display waypoints. The UAV's current
// position is prepended to the waypoint list when it is non-zero and
// distinct from the first planned point.
func (s *Service) UploadPlan(id string, data []byte) ([]plan.Item, []plan.Waypoint, error) {
	rec, ok := s.reg.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	doc, err := plan.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	items, waypoints := plan.Parse(doc)

	if math.Abs(rec.Lat) > coordEpsilon && math.Abs(rec.Lon) > coordEpsilon {
		if len(waypoints) == 0 ||
			math.Abs(waypoints[0][0]-rec.Lat) > coordEpsilon ||
			math.Abs(waypoints[0][1]-rec.Lon) > coordEpsilon {
			waypoints = append([]plan.Waypoint{{rec.Lat, rec.Lon}}, waypoints...)
		}
	}

	s.reg.Update(id, func(u *uav.UAV) {
		u.Mission = append([]plan.Item(nil), items...)
		u.PlanRaw = doc
	})

	logger.Info("[GCS] Plan cached for %s: %d items, %d waypoints", id, len(items), len(waypoints))
	return items, waypoints, nil
}

// StartMission validates the request, transitions the record to
// starting/uploading and schedules the upload + flight sequence.
func (s *Service) StartMission(id string, takeoffAlt float64) error {
	rec, ok := s.reg.Get(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if _, ok := s.reg.Link(id); !ok {
		return fmt.Errorf("%s: %w", id, ErrLinkUnavailable)
	}
	if len(rec.Mission) == 0 {
		return fmt.Errorf("%s: %w", id, ErrMissionEmpty)
	}
	if rec.MissionStatus == uav.MissionStarting || rec.MissionStatus == uav.MissionRunning {
		return fmt.Errorf("%s: %w", id, ErrMissionInProgress)
	}

	s.reg.Update(id, func(u *uav.UAV) {
		u.MissionStatus = uav.MissionStarting
		u.MissionPhase = uav.PhaseUploading
		u.MissionCurrentSeq = -1
		u.MissionProgress = 0
		u.LastMissionUpdate = time.Now().UTC()
	})

	go s.runSequence(id, takeoffAlt)
	return nil
}

// runSequence uploads the mission and runs the flight director under the
// comm lock, then records the outcome.
func (s *Service) runSequence(id string, takeoffAlt float64) {
	rec, ok := s.reg.Get(id)
	if !ok {
		return
	}
	link, ok := s.reg.Link(id)
	if !ok {
		s.recordFailure(id, uav.PhaseException)
		return
	}

	items := mission.WithHome(rec.Mission, rec.PlanRaw)
	items = applyTakeoffAltitude(items, takeoffAlt)

	s.reg.Update(id, func(u *uav.UAV) {
		u.MissionTotal = len(items)
	})

	err := mission.WithCommLock(s.reg, id, func() error {
		if err := s.NewTransfer(link).Upload(items); err != nil {
			return err
		}
		return s.NewDirector(link).Execute()
	})
	if err != nil {
		phase := uav.PhaseException
		var step *mission.StepError
		switch {
		case errors.As(err, &step):
			phase = step.Phase
		case errors.Is(err, mission.ErrTimeout), errors.Is(err, mission.ErrProtocolViolation):
			phase = uav.PhaseUploadError
		}
		logger.Error("[GCS] Mission sequence failed for %s: %v", id, err)
		if phase == uav.PhaseUploadError {
			metrics.Global.IncMissionUpload(false)
		}
		metrics.Global.AddLog("error", fmt.Sprintf("Mission sequence failed for %s: %v", id, err))
		s.recordFailure(id, phase)
		return
	}

	s.reg.Update(id, func(u *uav.UAV) {
		u.MissionStatus = uav.MissionRunning
		u.MissionPhase = uav.PhaseInProgress
		u.LastMissionUpdate = time.Now().UTC()
	})
	metrics.Global.IncMissionStart()
	metrics.Global.AddLog("info", fmt.Sprintf("Mission running on %s", id))
	logger.Info("[GCS] Mission running on %s", id)
}

func (s *Service) recordFailure(id, phase string) {
	s.reg.Update(id, func(u *uav.UAV) {
		u.MissionStatus = uav.MissionError
		u.MissionPhase = phase
		u.LastMissionUpdate = time.Now().UTC()
	})
}

// applyTakeoffAltitude fills the target altitude of takeoff items that
// carry none.
func applyTakeoffAltitude(items []plan.Item, takeoffAlt float64) []plan.Item {
	const cmdNavTakeoff = 22
	if takeoffAlt <= 0 {
		return items
	}
	for i := range items {
		if items[i].Command != cmdNavTakeoff {
			continue
		}
		if items[i].Alt == nil || *items[i].Alt == 0 {
			alt := takeoffAlt
			items[i].Alt = &alt
			items[i].Params[6] = takeoffAlt
		}
	}
	return items
}

// StopMission halts execution send-only and records the stopped verdict.
// The verdict is final: late MISSION_CURRENT reports no longer transition
// the record.
func (s *Service) StopMission(id string) error {
	if _, ok := s.reg.Get(id); !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	link, ok := s.reg.Link(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrLinkUnavailable)
	}

	err := s.NewDirector(link).StopMission()

	s.reg.Update(id, func(u *uav.UAV) {
		u.MissionStatus = uav.MissionStopped
		u.MissionPhase = uav.PhaseStopped
		u.LastMissionUpdate = time.Now().UTC()
	})
	metrics.Global.IncMissionStop()
	metrics.Global.AddLog("info", fmt.Sprintf("Mission stopped on %s", id))

	if err != nil {
		return fmt.Errorf("stop mission on %s: %w", id, err)
	}
	return nil
}

// Disconnect tears the session down: the reader exits on the cleared
// Connected flag and the link is closed. The record stays until the next
// cleanup pass.
func (s *Service) Disconnect(id string) error {
	ok := s.reg.Update(id, func(u *uav.UAV) {
		u.Connected = false
		u.Status = uav.StatusOffline
	})
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if link, found := s.reg.DropLink(id); found {
		link.Close()
	}
	metrics.Global.AddLog("info", fmt.Sprintf("Disconnected %s", id))
	logger.Info("[GCS] Disconnected %s", id)
	return nil
}

// Refresh returns the current registry snapshot without rescanning.
func (s *Service) Refresh() []uav.UAV {
	return s.reg.SnapshotAll()
}

// Rescan triggers a one-shot discovery pass and returns the snapshot.
func (s *Service) Rescan() []uav.UAV {
	if s.disc != nil {
		s.disc.Scan()
	}
	return s.reg.SnapshotAll()
}
