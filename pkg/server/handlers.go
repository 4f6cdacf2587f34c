package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/bucket"
	"github.com/nicktill/sysincident/pkg/config"
	"github.com/nicktill/sysincident/pkg/httpx"
	"github.com/nicktill/sysincident/pkg/incident"
	"github.com/nicktill/sysincident/pkg/server/monitor"
	"github.com/nicktill/sysincident/pkg/storage"
)

// ErrTooManyCheckins is returned when a check-in batch exceeds
// config.MaxCheckinsPerRequest.
var ErrTooManyCheckins = errors.New("too many check-ins in one request")

var startTime = time.Now()

// CheckinRequest is the body of POST /v1/checkins.
type CheckinRequest struct {
	Timestamps []time.Time `json:"timestamps"`
}

// CheckinResponse acknowledges a recorded batch.
type CheckinResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// MetricResponse is the stored indicator for one minute.
type MetricResponse struct {
	Tick         time.Time  `json:"tick"`
	Bucket       bucket.Key `json:"bucket"`
	PctDeviation float64    `json:"pct_deviation"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string             `json:"status"`
	Uptime string             `json:"uptime"`
	Store  string             `json:"store"`
	Ticks  monitor.TickStatus `json:"ticks"`
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Routes bundles everything the HTTP handlers depend on.
type Routes struct {
	Core     *Core
	Store    storage.Store
	Monitor  *monitor.TickMonitor
	Hub      *Hub
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, rt Routes) {
	if rt.Logger == nil {
		rt.Logger = zap.NewNop()
	}

	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/checkins", handleCheckins(rt.Core.Recorder, rt.Logger)).Methods("POST")
	api.HandleFunc("/ticks/{ts}/metric", handleTickMetric(rt.Core.Reader, rt.Logger)).Methods("GET")
	api.HandleFunc("/health", handleHealth(rt.Monitor, rt.Store, rt.Logger)).Methods("GET")

	if rt.Hub != nil {
		api.HandleFunc("/ws", rt.Hub.ServeWS).Methods("GET")
	}

	if rt.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// handleCheckins records a batch of check-in timestamps.
func handleCheckins(rec *incident.Recorder, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckinRequest
		if err := httpx.DecodeJSON(w, r, config.MaxRequestBodyBytes, &req); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, httpx.ErrBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			httpx.RespondError(w, status, err)
			return
		}

		if len(req.Timestamps) > config.MaxCheckinsPerRequest {
			httpx.RespondError(w, http.StatusBadRequest,
				fmt.Errorf("%w: got %d, limit is %d", ErrTooManyCheckins, len(req.Timestamps), config.MaxCheckinsPerRequest))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
		defer cancel()

		if err := rec.Record(ctx, req.Timestamps); err != nil {
			logger.Error("failed to record check-ins", zap.Int("count", len(req.Timestamps)), zap.Error(err))
			httpx.RespondError(w, statusForStoreError(err), err)
			return
		}

		httpx.RespondJSON(w, http.StatusOK, CheckinResponse{Status: "success", Count: len(req.Timestamps)})
	}
}

// handleTickMetric returns the stored indicator for the minute containing ts.
func handleTickMetric(reader *incident.Reader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := parseTimestamp(mux.Vars(r)["ts"])
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}

		value, ok, err := reader.Metric(r.Context(), ts)
		if err != nil {
			logger.Error("failed to read tick metric", zap.Time("tick", ts), zap.Error(err))
			httpx.RespondError(w, statusForStoreError(err), err)
			return
		}
		if !ok {
			httpx.RespondErrorString(w, http.StatusNotFound, "no metric recorded for this minute")
			return
		}

		key := bucket.Of(ts)
		httpx.RespondJSON(w, http.StatusOK, MetricResponse{
			Tick:         key.Time(),
			Bucket:       key,
			PctDeviation: value,
		})
	}
}

// handleHealth returns service health status. A store that fails its ping
// degrades the service regardless of tick state.
func handleHealth(mon *monitor.TickMonitor, store storage.Store, logger *zap.Logger) http.HandlerFunc {
	pinger, _ := store.(Pinger)

	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		status := mon.Status()
		if !status.Healthy {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		storeStatus := "ok"
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), config.HealthPingTimeout)
			err := pinger.Ping(ctx)
			cancel()
			if err != nil {
				logger.Warn("store ping failed", zap.Error(err))
				storeStatus = "unreachable"
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status: overallStatus,
			Uptime: time.Since(startTime).Round(time.Second).String(),
			Store:  storeStatus,
			Ticks:  status,
		})
	}
}

// parseTimestamp accepts epoch seconds or RFC3339.
func parseTimestamp(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: want epoch seconds or RFC3339", s)
	}
	return t, nil
}

// statusForStoreError maps corrupt data to 500 and everything else the
// store reports to 503.
func statusForStoreError(err error) int {
	switch {
	case errors.Is(err, storage.ErrCorruptValue):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}
