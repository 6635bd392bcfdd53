package telemetry

import (
	"time"

	"github.com/Legell/UAV-System/internal/logger"
	"github.com/Legell/UAV-System/internal/uav"
)

// Monitor periodically sweeps the registry and marks UAVs with stale
// heartbeats offline. It never touches Connected and never closes links;
// transient packet loss must not destroy session state.
type Monitor struct {
	reg        *uav.Registry
	Interval   time.Duration
	StaleAfter time.Duration
	stopCh     chan struct{}
}

func NewMonitor(reg *uav.Registry, staleAfter time.Duration) *Monitor {
	if staleAfter <= 0 {
		staleAfter = 60 * time.Second
	}
	return &Monitor{
		reg:        reg,
		Interval:   5 * time.Second,
		StaleAfter: staleAfter,
		stopCh:     make(chan struct{}),
	}
}

// Run sweeps until Stop is called.
func (m *Monitor) Run() {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep(time.Now().UTC())
		}
	}
}

// Sweep marks every record whose last heartbeat is older than StaleAfter
// as offline.
func (m *Monitor) Sweep(now time.Time) {
	for _, rec := range m.reg.SnapshotAll() {
		if rec.Status == uav.StatusOnline && now.Sub(rec.LastHeartbeat) > m.StaleAfter {
			logger.Warn("[MONITOR] %s heartbeat stale (%.0fs), marking offline",
				rec.ID, now.Sub(rec.LastHeartbeat).Seconds())
			m.reg.Update(rec.ID, func(u *uav.UAV) { u.Status = uav.StatusOffline })
		}
	}
}

func (m *Monitor) Stop() {
	close(m.stopCh)
}
