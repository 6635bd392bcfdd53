package metrics

import (
	"fmt"
	"testing"
)

func TestAddLogKeepsLastHundred(t *testing.T) {
	m := New()
	for i := 0; i < 105; i++ {
		m.AddLog("info", fmt.Sprintf("entry %d", i))
	}

	if len(m.RecentLogs) != 100 {
		t.Fatalf("log cap: got %d entries, want 100", len(m.RecentLogs))
	}
	if m.RecentLogs[0].Message != "entry 5" {
		t.Errorf("oldest entry: got %q, want entry 5", m.RecentLogs[0].Message)
	}
	if m.RecentLogs[99].Message != "entry 104" {
		t.Errorf("newest entry: got %q, want entry 104", m.RecentLogs[99].Message)
	}
}

func TestGetSnapshotCarriesLogs(t *testing.T) {
	m := New()
	m.AddLog("warn", "something happened")

	snap := m.GetSnapshot()
	logs, ok := snap["logs"].([]LogEntry)
	if !ok {
		t.Fatalf("snapshot logs have type %T", snap["logs"])
	}
	if len(logs) != 1 || logs[0].Level != "warn" || logs[0].Message != "something happened" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestCountersRoundTrip(t *testing.T) {
	m := New()
	m.IncReceived("Heartbeat")
	m.IncReceived("Heartbeat")
	m.IncSent("MissionCount")
	m.IncMissionUpload(true)
	m.IncMissionUpload(false)
	m.IncDiscovery(true)

	snap := m.GetSnapshot()
	if snap["received_messages"].(map[string]int64)["Heartbeat"] != 2 {
		t.Error("received counter wrong")
	}
	if snap["sent_messages"].(map[string]int64)["MissionCount"] != 1 {
		t.Error("sent counter wrong")
	}
	if snap["mission_uploads"].(int64) != 1 || snap["mission_upload_errors"].(int64) != 1 {
		t.Error("upload counters wrong")
	}
	if snap["discovery_successes"].(int64) != 1 {
		t.Error("discovery counter wrong")
	}
}
