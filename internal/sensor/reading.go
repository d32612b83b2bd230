package sensor

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	PhMin        = 0.0
	PhMax        = 14.0
	TurbidityMin = 0.0
	TurbidityMax = 3000.0 // NTU

	// DefaultDeviceID labels readings submitted without a deviceId.
	DefaultDeviceID = "ESP32-Default"
)

// Reading is one accepted sensor sample. Immutable after validation:
// ph and turbidity are always within their validated ranges, the
// timestamp is server-assigned and the id is only meaningful for
// client-side deduplication, never for ordering.
type Reading struct {
	ID        string    `json:"id"`
	PH        float64   `json:"ph"`
	Turbidity float64   `json:"turbidity"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"deviceId"`
}

// RawReading is the untrusted submission payload. Pointer fields
// distinguish absent from zero. The client timestamp is informational
// only and never used for ordering.
type RawReading struct {
	PH        *float64 `json:"ph"`
	Turbidity *float64 `json:"turbidity"`
	Timestamp string   `json:"timestamp,omitempty"`
	DeviceID  string   `json:"deviceId,omitempty"`
}

// ValidationError carries a stable code so handlers can name the
// violated constraint in the response body.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	ErrMalformedInput      = &ValidationError{Code: "MALFORMED_INPUT", Message: "invalid sensor data: pH and turbidity must be numbers"}
	ErrPhOutOfRange        = &ValidationError{Code: "PH_OUT_OF_RANGE", Message: "invalid pH value: must be between 0 and 14"}
	ErrTurbidityOutOfRange = &ValidationError{Code: "TURBIDITY_OUT_OF_RANGE", Message: "invalid turbidity value: must be between 0 and 3000 NTU"}
)

// Validate checks a raw submission and, if acceptable, materializes the
// Reading: values rounded to two decimals, timestamp assigned by the
// server, id generated. It has no side effects and must run before any
// mutation of shared state.
func Validate(raw RawReading) (Reading, error) {
	if raw.PH == nil || raw.Turbidity == nil {
		return Reading{}, ErrMalformedInput
	}

	ph, turbidity := *raw.PH, *raw.Turbidity
	if math.IsNaN(ph) || math.IsInf(ph, 0) || math.IsNaN(turbidity) || math.IsInf(turbidity, 0) {
		return Reading{}, ErrMalformedInput
	}

	if ph < PhMin || ph > PhMax {
		return Reading{}, ErrPhOutOfRange
	}
	if turbidity < TurbidityMin || turbidity > TurbidityMax {
		return Reading{}, ErrTurbidityOutOfRange
	}

	deviceID := raw.DeviceID
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}

	return Reading{
		ID:        uuid.New().String(),
		PH:        round2(ph),
		Turbidity: round2(turbidity),
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
