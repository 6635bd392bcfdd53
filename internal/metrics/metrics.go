package metrics

import (
	"sync"
	"time"
)

// Metrics holds process-wide counters for the GCS backend
type Metrics struct {
	mu sync.RWMutex

	// MAVLink traffic statistics, keyed by message type name
	ReceivedMessages map[string]int64
	SentMessages     map[string]int64

	// Mission workflow outcomes
	MissionUploads      int64
	MissionUploadErrors int64
	MissionStarts       int64
	MissionStops        int64

	// Discovery statistics
	DiscoveryAttempts  int64
	DiscoverySuccesses int64

	StartTime time.Time

	// Logs
	RecentLogs []LogEntry
}

type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

var Global *Metrics

func init() {
	Global = New()
}

func New() *Metrics {
	return &Metrics{
		ReceivedMessages: make(map[string]int64),
		SentMessages:     make(map[string]int64),
		StartTime:        time.Now(),
		RecentLogs:       make([]LogEntry, 0, 100),
	}
}

func (m *Metrics) IncReceived(msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReceivedMessages[msgType]++
}

func (m *Metrics) IncSent(msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages[msgType]++
}

func (m *Metrics) IncMissionUpload(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.MissionUploads++
	} else {
		m.MissionUploadErrors++
	}
}

func (m *Metrics) IncMissionStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MissionStarts++
}

func (m *Metrics) IncMissionStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MissionStops++
}

func (m *Metrics) IncDiscovery(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DiscoveryAttempts++
	if ok {
		m.DiscoverySuccesses++
	}
}

func (m *Metrics) AddLog(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
	}

	// Keep last 100 logs
	if len(m.RecentLogs) >= 100 {
		m.RecentLogs = m.RecentLogs[1:]
	}
	m.RecentLogs = append(m.RecentLogs, entry)
}

func (m *Metrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	received := make(map[string]int64, len(m.ReceivedMessages))
	for k, v := range m.ReceivedMessages {
		received[k] = v
	}
	sent := make(map[string]int64, len(m.SentMessages))
	for k, v := range m.SentMessages {
		sent[k] = v
	}

	return map[string]interface{}{
		"received_messages":     received,
		"sent_messages":         sent,
		"mission_uploads":       m.MissionUploads,
		"mission_upload_errors": m.MissionUploadErrors,
		"mission_starts":        m.MissionStarts,
		"mission_stops":         m.MissionStops,
		"discovery_attempts":    m.DiscoveryAttempts,
		"discovery_successes":   m.DiscoverySuccesses,
		"uptime":                time.Since(m.StartTime).String(),
		"logs":                  m.RecentLogs,
	}
}
