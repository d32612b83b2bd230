package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aquaflow/sensorhub/internal/audit"
	"github.com/aquaflow/sensorhub/internal/middleware"
	"github.com/aquaflow/sensorhub/internal/sensor"
	"github.com/aquaflow/sensorhub/internal/ws"
)

const defaultRecentLimit = 10

// AuditRecorder persists the trail of administrative actions.
type AuditRecorder interface {
	Insert(ctx context.Context, e *audit.Event) error
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

// SensorHandler exposes the ingestion endpoint: the device write path,
// the dashboard read paths and the live subscription upgrade. Audit is
// optional; without it destructive operations leave no trail.
type SensorHandler struct {
	Service *sensor.Service
	Hub     *ws.Hub
	Audit   AuditRecorder
}

func NewSensorHandler(svc *sensor.Service, hub *ws.Hub) *SensorHandler {
	return &SensorHandler{Service: svc, Hub: hub}
}

// Register mounts the sensor routes. submitGuard wraps the device
// write path (rate limiting); adminGuard wraps destructive operations.
// Either may be nil.
func (h *SensorHandler) Register(r chi.Router, submitGuard, adminGuard func(http.Handler) http.Handler) {
	if submitGuard == nil {
		submitGuard = passthrough
	}
	if adminGuard == nil {
		adminGuard = passthrough
	}

	r.Route("/api/v1/sensors", func(r chi.Router) {
		r.Method(http.MethodPost, "/", submitGuard(http.HandlerFunc(h.Submit)))
		r.Get("/", h.Recent)
		r.Get("/latest", h.Latest)
		r.Get("/status", h.Status)
		r.Method(http.MethodDelete, "/", adminGuard(http.HandlerFunc(h.Clear)))
		r.Get("/live", h.ServeWS)
	})

	r.Method(http.MethodGet, "/api/v1/audit", adminGuard(http.HandlerFunc(h.AuditTrail)))
}

func passthrough(next http.Handler) http.Handler { return next }

// Submit handles POST /api/v1/sensors
func (h *SensorHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var raw sensor.RawReading
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, sensor.ErrMalformedInput.Code, sensor.ErrMalformedInput.Message)
		return
	}

	result, err := h.Service.Accept(r.Context(), raw)
	if err != nil {
		var verr *sensor.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Code, verr.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// Recent handles GET /api/v1/sensors?limit=n
func (h *SensorHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	readings := h.Service.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(readings),
		"readings": readings,
	})
}

// Latest handles GET /api/v1/sensors/latest
func (h *SensorHandler) Latest(w http.ResponseWriter, r *http.Request) {
	reading, ok := h.Service.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no sensor data available yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reading": reading})
}

// Status handles GET /api/v1/sensors/status
func (h *SensorHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Status())
}

// Clear handles DELETE /api/v1/sensors
func (h *SensorHandler) Clear(w http.ResponseWriter, r *http.Request) {
	cleared := h.Service.Clear()

	if h.Audit != nil {
		evt := &audit.Event{
			Action:    audit.ActionHistoryCleared,
			Subject:   middleware.SubjectFrom(r.Context()),
			RequestID: middleware.RequestIDFrom(r.Context()),
			ClientIP:  r.RemoteAddr,
			Detail:    fmt.Sprintf(`{"clearedCount":%d}`, cleared),
		}
		// Best effort, detached from the response.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.Audit.Insert(ctx, evt); err != nil {
				log.Printf("Audit insert failed for %s: %v", evt.Action, err)
			}
		}()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"clearedCount": cleared})
}

// AuditTrail handles GET /api/v1/audit?limit=n
func (h *SensorHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, http.StatusNotImplemented, "AUDIT_DISABLED", "audit trail requires a database")
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.Audit.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":  code,
		"error": message,
	})
}
