// Package web exposes the GCS over HTTP: fleet snapshots, mission
// management, a weather proxy for the map view and a websocket telemetry
// stream.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/Legell/UAV-System/internal/gcs"
	"github.com/Legell/UAV-System/internal/logger"
	"github.com/Legell/UAV-System/internal/metrics"
	"github.com/Legell/UAV-System/internal/plan"
)

const defaultTakeoffAltitude = 10.0

// Server wires the service API to HTTP routes.
type Server struct {
	svc *gcs.Service

	upgrader websocket.Upgrader
	weather  *http.Client

	// Snapshot stream period for websocket clients.
	StreamInterval time.Duration
}

func NewServer(svc *gcs.Service) *Server {
	return &Server{
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		weather:        &http.Client{Timeout: 10 * time.Second},
		StreamInterval: time.Second,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/uavs", s.handleListUAVs)
	r.Get("/refresh_uavs", s.handleRefreshUAVs)
	r.Route("/uavs/{id}", func(r chi.Router) {
		r.Get("/mission", s.handleGetMission)
		r.Post("/mission", s.handleSetMission)
		r.Post("/mission/upload", s.handleUploadPlan)
		r.Post("/mission/start", s.handleStartMission)
		r.Post("/mission/stop", s.handleStopMission)
		r.Post("/disconnect", s.handleDisconnect)
	})
	r.Get("/weather", s.handleWeather)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/ws", s.handleWebsocket)

	return r
}

// Start runs the HTTP server in the background.
func (s *Server) Start(port int) {
	server := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("[WEB] Starting server on http://%s", server.Addr)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("[WEB] Server error: %v", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gcs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gcs.ErrMissionEmpty):
		status = http.StatusBadRequest
	case errors.Is(err, gcs.ErrMissionInProgress), errors.Is(err, gcs.ErrLinkUnavailable):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleListUAVs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"uavs": s.svc.ListUAVs()})
}

// handleRefreshUAVs triggers a discovery pass before snapshotting, so a
// vehicle brought up after startup appears without restarting the GCS.
func (s *Server) handleRefreshUAVs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"uavs": s.svc.Rescan()})
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	items, err := s.svc.GetMission(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mission": items})
}

func (s *Server) handleSetMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Mission []plan.Item `json:"mission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.svc.SetMission(id, req.Mission); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mission": req.Mission})
}

// handleUploadPlan accepts the .plan document either as a multipart "file"
// field or as the raw request body.
func (s *Server) handleUploadPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	data, err := readPlanBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	items, waypoints, err := s.svc.UploadPlan(id, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mission":   items,
		"waypoints": waypoints,
	})
}

func readPlanBody(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(8 << 20); err == nil {
		file, _, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			return io.ReadAll(file)
		}
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read plan body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plan body")
	}
	return data, nil
}

func (s *Server) handleStartMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	takeoffAlt := defaultTakeoffAltitude
	var req struct {
		TakeoffAltitude *float64 `json:"takeoff_altitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.TakeoffAltitude != nil {
		takeoffAlt = *req.TakeoffAltitude
	}

	if err := s.svc.StartMission(id, takeoffAlt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "starting"})
}

func (s *Server) handleStopMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.StopMission(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Disconnect(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// handleWeather proxies Open-Meteo current conditions plus a Nominatim
// reverse geocode for the given coordinates, so the frontend needs no
// third-party API access of its own.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	lat := r.URL.Query().Get("lat")
	lon := r.URL.Query().Get("lon")
	if lat == "" || lon == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "lat and lon query parameters are required"})
		return
	}

	weatherURL := fmt.Sprintf(
		"https://api.open-meteo.com/v1/forecast?latitude=%s&longitude=%s&current_weather=true",
		url.QueryEscape(lat), url.QueryEscape(lon))
	geoURL := fmt.Sprintf(
		"https://nominatim.openstreetmap.org/reverse?lat=%s&lon=%s&format=json",
		url.QueryEscape(lat), url.QueryEscape(lon))

	weather, err := s.fetchJSON(weatherURL)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "weather service: " + err.Error()})
		return
	}
	location, err := s.fetchJSON(geoURL)
	if err != nil {
		logger.Warn("[WEB] Reverse geocode failed: %v", err)
		location = nil
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"weather":  weather,
		"location": location,
	})
}

func (s *Server) fetchJSON(rawURL string) (map[string]interface{}, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	// Nominatim's usage policy requires an identifying agent
	req.Header.Set("User-Agent", "uav-system-gcs/1.0")

	resp, err := s.weather.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.Global.GetSnapshot())
}

// handleWebsocket streams fleet snapshots until the client goes away.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[WEB] Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close frames are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.StreamInterval)
	defer ticker.Stop()

	for range ticker.C {
		snapshot := map[string]interface{}{"uavs": s.svc.ListUAVs()}
		if err := conn.WriteJSON(snapshot); err != nil {
			return
		}
	}
}
