// Package discovery opens MAVLink links on configured UDP ports and
// registers every vehicle that answers the GCS heartbeat.
package discovery

import (
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/Legell/UAV-System/internal/logger"
	"github.com/Legell/UAV-System/internal/mavlink"
	"github.com/Legell/UAV-System/internal/metrics"
	"github.com/Legell/UAV-System/internal/telemetry"
	"github.com/Legell/UAV-System/internal/uav"
)

// Discovery scans a fixed set of UDP ports for vehicles. Each Scan is
// one-shot; callers retrigger it periodically or on demand.
type Discovery struct {
	reg        *uav.Registry
	Host       string
	Ports      []int
	NameOffset int

	HandshakeTimeout time.Duration

	// Dial and SpawnReader are injectable for tests.
	Dial        func(host string, port int) (mavlink.Link, error)
	SpawnReader func(id string, link mavlink.Link)
}

func New(reg *uav.Registry, host string, ports []int, nameOffset int) *Discovery {
	d := &Discovery{
		reg:              reg,
		Host:             host,
		Ports:            ports,
		NameOffset:       nameOffset,
		HandshakeTimeout: 5 * time.Second,
		Dial:             mavlink.Dial,
	}
	d.SpawnReader = func(id string, link mavlink.Link) {
		go telemetry.NewReader(reg, id, link).Run()
	}
	return d
}

// ID returns the registry key for a port.
func ID(port int) string {
	return fmt.Sprintf("uav_%d", port)
}

// Scan probes every configured port once. Ports already registered with
// connected=true are left alone.
func (d *Discovery) Scan() {
	logger.Info("[DISCOVER] Scanning ports %v on %s", d.Ports, d.Host)
	for _, port := range d.Ports {
		id := ID(port)
		if rec, ok := d.reg.Get(id); ok && rec.Connected {
			continue
		}
		d.connect(port)
	}
}

// connect opens a link, performs the heartbeat handshake and registers the
// vehicle. Returns true when a record was inserted.
func (d *Discovery) connect(port int) bool {
	id := ID(port)

	link, err := d.Dial(d.Host, port)
	if err != nil {
		logger.Error("[DISCOVER] Failed to open link on port %d: %v", port, err)
		metrics.Global.IncDiscovery(false)
		return false
	}

	// Announce ourselves so the autopilot knows a GCS is present
	if err := link.SendHeartbeat(common.MAV_TYPE_GCS, common.MAV_AUTOPILOT_INVALID, 0, 0, common.MAV_STATE_ACTIVE); err != nil {
		logger.Error("[DISCOVER] Failed to send GCS heartbeat on port %d: %v", port, err)
		link.Close()
		metrics.Global.IncDiscovery(false)
		return false
	}

	msg, err := link.RecvMatch([]string{"Heartbeat"}, d.HandshakeTimeout)
	if err != nil || msg == nil {
		if err != nil {
			logger.Error("[DISCOVER] Handshake error on port %d: %v", port, err)
			metrics.Global.AddLog("error", fmt.Sprintf("Handshake error on port %d: %v", port, err))
		} else {
			logger.Info("[DISCOVER] No heartbeat from port %d", port)
			metrics.Global.AddLog("warn", fmt.Sprintf("No heartbeat from port %d", port))
		}
		link.Close()
		metrics.Global.IncDiscovery(false)
		return false
	}

	name := fmt.Sprintf("БВС-%d", port-d.NameOffset)
	rec := uav.New(id, name, port)
	d.reg.Insert(rec, link)
	d.SpawnReader(id, link)

	sys, comp := link.Target()
	logger.Info("[DISCOVER] Registered %s (%s) on port %d (system %d component %d)",
		id, name, port, sys, comp)
	metrics.Global.IncDiscovery(true)
	metrics.Global.AddLog("info", fmt.Sprintf("Registered %s (%s) on port %d", id, name, port))
	return true
}

// CleanupDisconnected closes and removes every record left with
// connected=false by an explicit disconnect.
func (d *Discovery) CleanupDisconnected() {
	for _, rec := range d.reg.SnapshotAll() {
		if rec.Connected {
			continue
		}
		if link, ok := d.reg.DropLink(rec.ID); ok {
			link.Close()
		}
		d.reg.Remove(rec.ID)
		logger.Info("[CLEANUP] Removed disconnected UAV %s", rec.ID)
	}
}
