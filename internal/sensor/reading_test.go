package sensor_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaflow/sensorhub/internal/sensor"
)

func f(v float64) *float64 { return &v }

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		raw     sensor.RawReading
		wantErr *sensor.ValidationError
	}{
		{
			name: "valid reading",
			raw:  sensor.RawReading{PH: f(7.2), Turbidity: f(150)},
		},
		{
			name: "boundary values accepted",
			raw:  sensor.RawReading{PH: f(0), Turbidity: f(3000)},
		},
		{
			name:    "missing ph",
			raw:     sensor.RawReading{Turbidity: f(150)},
			wantErr: sensor.ErrMalformedInput,
		},
		{
			name:    "missing turbidity",
			raw:     sensor.RawReading{PH: f(7.0)},
			wantErr: sensor.ErrMalformedInput,
		},
		{
			name:    "ph above range",
			raw:     sensor.RawReading{PH: f(15), Turbidity: f(10)},
			wantErr: sensor.ErrPhOutOfRange,
		},
		{
			name:    "ph below range",
			raw:     sensor.RawReading{PH: f(-0.1), Turbidity: f(10)},
			wantErr: sensor.ErrPhOutOfRange,
		},
		{
			name:    "turbidity above range",
			raw:     sensor.RawReading{PH: f(7), Turbidity: f(3000.5)},
			wantErr: sensor.ErrTurbidityOutOfRange,
		},
		{
			name:    "turbidity below range",
			raw:     sensor.RawReading{PH: f(7), Turbidity: f(-1)},
			wantErr: sensor.ErrTurbidityOutOfRange,
		},
		{
			name:    "NaN rejected as malformed",
			raw:     sensor.RawReading{PH: f(math.NaN()), Turbidity: f(10)},
			wantErr: sensor.ErrMalformedInput,
		},
		{
			name:    "Inf rejected as malformed",
			raw:     sensor.RawReading{PH: f(7), Turbidity: f(math.Inf(1))},
			wantErr: sensor.ErrMalformedInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading, err := sensor.Validate(tt.raw)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, reading.ID)
			assert.WithinDuration(t, time.Now().UTC(), reading.Timestamp, time.Second)
		})
	}
}

func TestValidate_RoundsToTwoDecimals(t *testing.T) {
	reading, err := sensor.Validate(sensor.RawReading{PH: f(7.12345), Turbidity: f(150.999)})
	require.NoError(t, err)
	assert.Equal(t, 7.12, reading.PH)
	assert.Equal(t, 151.0, reading.Turbidity)
}

func TestValidate_DefaultsDeviceID(t *testing.T) {
	reading, err := sensor.Validate(sensor.RawReading{PH: f(7), Turbidity: f(10)})
	require.NoError(t, err)
	assert.Equal(t, sensor.DefaultDeviceID, reading.DeviceID)

	reading, err = sensor.Validate(sensor.RawReading{PH: f(7), Turbidity: f(10), DeviceID: "esp32-tank-2"})
	require.NoError(t, err)
	assert.Equal(t, "esp32-tank-2", reading.DeviceID)
}

func TestValidate_ClientTimestampNotTrusted(t *testing.T) {
	reading, err := sensor.Validate(sensor.RawReading{PH: f(7), Turbidity: f(10), Timestamp: "1999-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), reading.Timestamp, time.Second,
		"timestamp is server-assigned regardless of client input")
}

func TestValidate_UniqueIDs(t *testing.T) {
	a, err := sensor.Validate(sensor.RawReading{PH: f(7), Turbidity: f(10)})
	require.NoError(t, err)
	b, err := sensor.Validate(sensor.RawReading{PH: f(7), Turbidity: f(10)})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
