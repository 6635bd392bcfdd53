package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Legell/UAV-System/internal/gcs"
	"github.com/Legell/UAV-System/internal/mavlink/mavlinktest"
	"github.com/Legell/UAV-System/internal/uav"
)

func newTestServer() (*Server, *uav.Registry) {
	reg := uav.NewRegistry()
	reg.Insert(uav.New("uav_14550", "БВС-14331", 14550), mavlinktest.New())
	svc := gcs.NewService(reg, nil)
	return NewServer(svc), reg
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestListUAVs(t *testing.T) {
	s, _ := newTestServer()

	rec := doRequest(t, s, http.MethodGet, "/uavs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	var resp struct {
		UAVs []uav.UAV `json:"uavs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.UAVs) != 1 || resp.UAVs[0].ID != "uav_14550" {
		t.Fatalf("unexpected fleet: %+v", resp.UAVs)
	}
}

func TestMissionRoundTrip(t *testing.T) {
	s, _ := newTestServer()

	body := `{"mission": [{"seq": 1, "command": 16, "frame": 3, "params": [0,0,0,0,47.1,8.1,30]}]}`
	rec := doRequest(t, s, http.MethodPost, "/uavs/uav_14550/mission", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("set mission status: got %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/uavs/uav_14550/mission", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get mission status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"command":16`) {
		t.Errorf("mission not round-tripped: %s", rec.Body.String())
	}
}

func TestUploadPlanRoute(t *testing.T) {
	s, reg := newTestServer()

	body := `{"mission": {"items": [{"type": "SimpleItem", "command": 16, "params": [0,0,0,0,47.1,8.1,50]}]}}`
	rec := doRequest(t, s, http.MethodPost, "/uavs/uav_14550/mission/upload", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status: got %d, body %s", rec.Code, rec.Body.String())
	}

	record, _ := reg.Get("uav_14550")
	if len(record.Mission) != 1 {
		t.Error("plan not cached through the route")
	}
}

func TestStartMissionRouteGuards(t *testing.T) {
	s, reg := newTestServer()

	// Empty mission
	rec := doRequest(t, s, http.MethodPost, "/uavs/uav_14550/mission/start", "{}")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty mission: got %d, want 400", rec.Code)
	}

	// Unknown vehicle
	rec = doRequest(t, s, http.MethodPost, "/uavs/nope/mission/start", "{}")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: got %d, want 404", rec.Code)
	}

	// Already running
	reg.Update("uav_14550", func(u *uav.UAV) { u.MissionStatus = uav.MissionRunning })
	body := `{"mission": {"items": [{"type": "SimpleItem", "command": 16, "params": [0,0,0,0,47.1,8.1,50]}]}}`
	doRequest(t, s, http.MethodPost, "/uavs/uav_14550/mission/upload", body)
	rec = doRequest(t, s, http.MethodPost, "/uavs/uav_14550/mission/start", "{}")
	if rec.Code != http.StatusConflict {
		t.Errorf("running mission: got %d, want 409", rec.Code)
	}
}

func TestStopMissionRoute(t *testing.T) {
	s, reg := newTestServer()
	reg.Update("uav_14550", func(u *uav.UAV) { u.MissionStatus = uav.MissionRunning })

	rec := doRequest(t, s, http.MethodPost, "/uavs/uav_14550/mission/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status: got %d, body %s", rec.Code, rec.Body.String())
	}

	record, _ := reg.Get("uav_14550")
	if record.MissionStatus != uav.MissionStopped {
		t.Errorf("mission status: got %s, want stopped", record.MissionStatus)
	}
}

func TestDisconnectRoute(t *testing.T) {
	s, reg := newTestServer()

	rec := doRequest(t, s, http.MethodPost, "/uavs/uav_14550/disconnect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status: got %d", rec.Code)
	}

	record, ok := reg.Get("uav_14550")
	if !ok || record.Connected {
		t.Error("record should remain, marked disconnected")
	}
}

func TestWeatherRequiresCoords(t *testing.T) {
	s, _ := newTestServer()

	rec := doRequest(t, s, http.MethodGet, "/weather", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing coords: got %d, want 400", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer()

	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %s", ct)
	}
}
