package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/booking"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/dispatch"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/fusion"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/payments"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/realtime"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/stations"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/transit"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/weather"
)

type Server struct {
	coord         *dispatch.Coordinator
	stations      *stations.Index
	weather       *weather.OpenWeatherClient
	transit       *transit.ODPTClient
	signals       *fusion.Engine
	hub           *realtime.Hub
	webhookSecret string
	logger        *slog.Logger
	mux           *mux.Router
}

func New(logger *slog.Logger, coord *dispatch.Coordinator, st *stations.Index, wc *weather.OpenWeatherClient, tc *transit.ODPTClient, sig *fusion.Engine, hub *realtime.Hub, webhookSecret string) *Server {
	s := &Server{
		coord:         coord,
		stations:      st,
		weather:       wc,
		transit:       tc,
		signals:       sig,
		hub:           hub,
		webhookSecret: webhookSecret,
		logger:        logger,
		mux:           mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/drivers/nearby", s.handleNearbyDrivers).Methods("GET")
	s.mux.HandleFunc("/api/drivers/location", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/api/stations/nearby", s.handleNearbyStations).Methods("GET")

	s.mux.HandleFunc("/api/bookings/create", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/bookings/{id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/bookings/{id}/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/api/bookings/{id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/bookings/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/bookings/{code}", s.handleGetBooking).Methods("GET")

	s.mux.HandleFunc("/api/weather", s.handleWeather).Methods("GET")
	s.mux.HandleFunc("/api/signals", s.handleSignals).Methods("GET")
	s.mux.HandleFunc("/api/trains/realtime", s.handleTrainsRealtime).Methods("GET")
	s.mux.HandleFunc("/api/trains/timetable", s.handleTimetable).Methods("GET")
	s.mux.HandleFunc("/api/trains/congestion", s.handleCongestion).Methods("GET")
	s.mux.HandleFunc("/api/bus/realtime", s.handleBusRealtime).Methods("GET")

	s.mux.HandleFunc("/api/payments/webhook", s.handlePaymentWebhook).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{client_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := coordParams(w, r, "lat", "lng")
	if !ok {
		return
	}
	radius, ok := radiusParam(w, r, 5.0)
	if !ok {
		return
	}
	drivers := s.coord.Geo.Nearby(lat, lng, radius, 10)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drivers": drivers})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string  `json:"driverId"`
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DriverID == "" || !validCoord(req.Lat, req.Lng) {
		writeError(w, http.StatusBadRequest, "driverId and valid lat/lng required")
		return
	}
	d, err := s.coord.UpdateDriverLocation(r.Context(), models.LocationUpdate{DriverID: req.DriverID, Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "driver": d})
}

func (s *Server) handleNearbyStations(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := coordParams(w, r, "lat", "lng")
	if !ok {
		return
	}
	radius, ok := radiusParam(w, r, 2.0)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stations": s.stations.Nearby(lat, lng, radius, 10)})
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID    string  `json:"customerId"`
		CustomerName  string  `json:"customerName"`
		CustomerPhone string  `json:"customerPhone"`
		PickupStation string  `json:"pickupStation"`
		PickupLat     float64 `json:"pickupLat"`
		PickupLng     float64 `json:"pickupLng"`
		Destination   string  `json:"destination"`
		DestLat       float64 `json:"destLat"`
		DestLng       float64 `json:"destLng"`
		Fare          float64 `json:"fare"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validCoord(req.PickupLat, req.PickupLng) {
		writeError(w, http.StatusBadRequest, "valid pickup coordinates required")
		return
	}
	if req.Fare < 0 {
		writeError(w, http.StatusBadRequest, "fare must be non-negative")
		return
	}
	q, err := s.coord.CreateBooking(r.Context(), dispatch.CreateBookingRequest{
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		PickupStation:   req.PickupStation,
		Pickup:          models.Coord{Lat: req.PickupLat, Lng: req.PickupLng},
		DestinationAddr: req.Destination,
		Destination:     models.Coord{Lat: req.DestLat, Lng: req.DestLng},
		Fare:            req.Fare,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "booking": q.Booking, "quote": q})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	b, err := s.coord.Machine.GetByCode(r.Context(), code)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "booking": b})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driverId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driverId required")
		return
	}
	b, err := s.coord.Accept(r.Context(), mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "booking": b})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.coord.Start)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.coord.Complete)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.coord.Cancel)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (*models.Booking, error)) {
	b, err := fn(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "booking": b})
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := coordParams(w, r, "lat", "lon")
	if !ok {
		return
	}
	current, err := s.weather.Current(r.Context(), lat, lng)
	if err != nil {
		s.writeUpstreamError(w, "openweather", err)
		return
	}
	forecast, err := s.weather.Forecast(r.Context(), lat, lng)
	if err != nil {
		s.writeUpstreamError(w, "openweather", err)
		return
	}
	res := fusion.Fuse(current, forecast, nil, time.Now(), s.stations.All())

	if len(forecast) > 6 {
		forecast = forecast[:6]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current":         current,
		"rainIn30Min":     res.RainImminent,
		"rainProbability": res.RainProbability,
		"demandImpact":    res.DemandImpact,
		"crowding":        res.Crowding,
		"stationWait":     res.PerStationWait,
		"forecast":        forecast,
	})
}

// handleSignals returns the fused demand snapshot the coordinator quotes
// from, for the same coordinates a booking would use.
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := coordParams(w, r, "lat", "lng")
	if !ok {
		return
	}
	res := s.signals.Snapshot(r.Context(), lat, lng)
	writeJSON(w, http.StatusOK, map[string]any{
		"demandImpact":    res.DemandImpact,
		"rainImminent":    res.RainImminent,
		"rainProbability": res.RainProbability,
		"crowding":        res.Crowding,
		"stationWait":     res.PerStationWait,
		"alerts":          res.Alerts,
		"degraded":        res.Degraded,
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleTrainsRealtime(w http.ResponseWriter, r *http.Request) {
	station := r.URL.Query().Get("station")
	trains, err := s.transit.Trains(r.Context(), station)
	if err != nil {
		s.writeUpstreamError(w, "odpt", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":    "ODPT",
		"station":   orAll(station),
		"trains":    trains,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleTimetable(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Query().Get("stationId")
	if stationID == "" {
		stationID = "odpt.Station:JR-East.Yamanote.Tokyo"
	}
	tt, err := s.transit.Timetable(r.Context(), stationID)
	if err != nil {
		s.writeUpstreamError(w, "odpt", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":    "ODPT",
		"stationId": stationID,
		"timetable": tt,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleCongestion(w http.ResponseWriter, r *http.Request) {
	trainID := r.URL.Query().Get("trainId")
	infos, err := s.transit.Congestion(r.Context(), trainID)
	if err != nil {
		s.writeUpstreamError(w, "odpt", err)
		return
	}
	alerts := make([]fusion.ClassifiedAlert, 0, len(infos))
	for _, info := range infos {
		alerts = append(alerts, fusion.ClassifiedAlert{
			TransitAlert: fusion.TransitAlert{Line: info.Railway, Status: info.Status, Text: info.Text},
			Severity:     fusion.ClassifySeverity(info.Text),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":     "ODPT",
		"trainId":    trainID,
		"congestion": alerts,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleBusRealtime(w http.ResponseWriter, r *http.Request) {
	stop := r.URL.Query().Get("stop")
	buses, err := s.transit.Buses(r.Context(), stop)
	if err != nil {
		s.writeUpstreamError(w, "odpt", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":    "ODPT",
		"stop":      orAll(stop),
		"buses":     buses,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handlePaymentWebhook verifies the provider signature before anything
// else; an unverified payload never reaches the coordinator.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "body read failed")
		return
	}
	ev, err := payments.VerifyAndParse(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret)
	if err != nil {
		if errors.Is(err, payments.ErrBadSignature) {
			s.logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
			writeError(w, http.StatusBadRequest, "signature verification failed")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	if err := s.coord.HandlePaymentEvent(r.Context(), ev); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	topics := r.URL.Query()["topic"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // upgrader already wrote the error
	}
	s.hub.Add(clientID, conn, topics...)
	// drain control frames; client writes are not part of the protocol
	go func() {
		defer s.hub.Remove(clientID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrInvalidTransition), errors.Is(err, booking.ErrDriverUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, upstream string, err error) {
	s.logger.Warn("upstream unavailable", "upstream", upstream, "error", err)
	writeError(w, http.StatusBadGateway, upstream+" unavailable")
}

func coordParams(w http.ResponseWriter, r *http.Request, latKey, lngKey string) (float64, float64, bool) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get(latKey), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get(lngKey), 64)
	if err1 != nil || err2 != nil || !validCoord(lat, lng) {
		writeError(w, http.StatusBadRequest, latKey+" and "+lngKey+" must be valid coordinates")
		return 0, 0, false
	}
	return lat, lng, true
}

// radiusParam parses an optional radius query parameter. NaN and ±Inf
// are rejected: a NaN radius defeats every distance comparison.
func radiusParam(w http.ResponseWriter, r *http.Request, def float64) (float64, bool) {
	v := r.URL.Query().Get("radius")
	if v == "" {
		return def, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		writeError(w, http.StatusBadRequest, "radius must be a finite non-negative number")
		return 0, false
	}
	return f, true
}

func validCoord(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 && !(lat == 0 && lng == 0)
}

func orAll(v string) string {
	if v == "" {
		return "all"
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
