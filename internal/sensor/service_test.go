package sensor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaflow/sensorhub/internal/sensor"
)

// mockHub records broadcasts in order.
type mockHub struct {
	mu       sync.Mutex
	readings []sensor.Reading
	count    int
}

func (m *mockHub) Broadcast(r sensor.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, r)
}

func (m *mockHub) Count() int { return m.count }

func (m *mockHub) broadcasts() []sensor.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sensor.Reading, len(m.readings))
	copy(out, m.readings)
	return out
}

// mockStore signals each insert so tests can wait on the detached
// persistence goroutine.
type mockStore struct {
	inserted chan sensor.Reading
	err      error
}

func (m *mockStore) Insert(ctx context.Context, r *sensor.Reading) error {
	if m.inserted != nil {
		m.inserted <- *r
	}
	return m.err
}

func TestService_AcceptHappyPath(t *testing.T) {
	hub := &mockHub{}
	store := &mockStore{inserted: make(chan sensor.Reading, 1)}
	svc := sensor.NewService(sensor.NewHistoryStore(100), hub, sensor.WithStore(store))

	result, err := svc.Accept(context.Background(), sensor.RawReading{PH: f(7.2), Turbidity: f(150), DeviceID: "tank-1"})
	require.NoError(t, err)
	assert.Equal(t, 7.2, result.Reading.PH)
	assert.Equal(t, 150.0, result.Reading.Turbidity)
	assert.Equal(t, "tank-1", result.Reading.DeviceID)
	assert.Equal(t, 7.2, result.PredictedNextPh, "single reading echoes its own pH")

	// Broadcast happened synchronously on the accept path.
	require.Len(t, hub.broadcasts(), 1)
	assert.Equal(t, result.Reading.ID, hub.broadcasts()[0].ID)

	// Persistence is fire and forget but must still happen.
	select {
	case persisted := <-store.inserted:
		assert.Equal(t, result.Reading.ID, persisted.ID)
	case <-time.After(time.Second):
		t.Fatal("reading was never persisted")
	}
}

func TestService_AcceptComputesTrend(t *testing.T) {
	hub := &mockHub{}
	svc := sensor.NewService(sensor.NewHistoryStore(100), hub)

	for _, ph := range []float64{7.0, 7.1} {
		_, err := svc.Accept(context.Background(), sensor.RawReading{PH: f(ph), Turbidity: f(10)})
		require.NoError(t, err)
	}

	result, err := svc.Accept(context.Background(), sensor.RawReading{PH: f(7.2), Turbidity: f(10)})
	require.NoError(t, err)
	assert.Equal(t, 7.3, result.PredictedNextPh)
}

func TestService_RejectionHasNoSideEffects(t *testing.T) {
	hub := &mockHub{}
	store := &mockStore{inserted: make(chan sensor.Reading, 1)}
	svc := sensor.NewService(sensor.NewHistoryStore(100), hub, sensor.WithStore(store))

	_, err := svc.Accept(context.Background(), sensor.RawReading{PH: f(15), Turbidity: f(10)})
	require.Error(t, err)
	assert.Equal(t, sensor.ErrPhOutOfRange, err)

	assert.Empty(t, hub.broadcasts(), "rejected readings are never broadcast")
	assert.Equal(t, 0, svc.Status().TotalReadings)

	select {
	case <-store.inserted:
		t.Fatal("rejected reading must not be persisted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_PersistFailureIsSwallowed(t *testing.T) {
	hub := &mockHub{}
	store := &mockStore{inserted: make(chan sensor.Reading, 1), err: errors.New("db down")}
	svc := sensor.NewService(sensor.NewHistoryStore(100), hub, sensor.WithStore(store))

	result, err := svc.Accept(context.Background(), sensor.RawReading{PH: f(7), Turbidity: f(10)})
	require.NoError(t, err, "persistence failure never surfaces to the caller")
	require.NotNil(t, result)

	<-store.inserted // the attempt still ran

	// Acceptance stands: reading is in history and was broadcast.
	latest, ok := svc.Latest()
	require.True(t, ok)
	assert.Equal(t, result.Reading.ID, latest.ID)
	assert.Len(t, hub.broadcasts(), 1)
}

func TestService_BroadcastOrderMatchesAcceptance(t *testing.T) {
	hub := &mockHub{}
	svc := sensor.NewService(sensor.NewHistoryStore(100), hub)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(ph float64) {
			defer wg.Done()
			_, err := svc.Accept(context.Background(), sensor.RawReading{PH: f(ph), Turbidity: f(10)})
			assert.NoError(t, err)
		}(7.0)
	}
	wg.Wait()

	// Every accepted reading was broadcast exactly once, and the hub
	// saw them in the same order history recorded them.
	broadcasts := hub.broadcasts()
	require.Len(t, broadcasts, 20)

	history := svc.Recent(20) // newest first
	require.Len(t, history, 20)
	for i, r := range broadcasts {
		assert.Equal(t, history[len(history)-1-i].ID, r.ID)
	}
}

func TestService_Status(t *testing.T) {
	hub := &mockHub{count: 3}
	svc := sensor.NewService(sensor.NewHistoryStore(100), hub)

	st := svc.Status()
	assert.False(t, st.Connected)
	assert.Nil(t, st.LastUpdate)
	assert.Nil(t, st.Latest)
	assert.Equal(t, 0, st.TotalReadings)
	assert.Equal(t, 3, st.SubscribersConnected)

	result, err := svc.Accept(context.Background(), sensor.RawReading{PH: f(7), Turbidity: f(10)})
	require.NoError(t, err)

	st = svc.Status()
	assert.True(t, st.Connected)
	require.NotNil(t, st.LastUpdate)
	assert.Equal(t, result.Reading.Timestamp, *st.LastUpdate)
	require.NotNil(t, st.Latest)
	assert.Equal(t, result.Reading.ID, st.Latest.ID)
	assert.Equal(t, 1, st.TotalReadings)
}

func TestService_Clear(t *testing.T) {
	hub := &mockHub{}
	svc := sensor.NewService(sensor.NewHistoryStore(100), hub)

	for i := 0; i < 3; i++ {
		_, err := svc.Accept(context.Background(), sensor.RawReading{PH: f(7), Turbidity: f(10)})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, svc.Clear())

	_, ok := svc.Latest()
	assert.False(t, ok)
	assert.False(t, svc.Status().Connected)

	// Clearing does not retract what was already broadcast.
	assert.Len(t, hub.broadcasts(), 3)
}
