// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/avbridge/internal/metrics"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 3, 10*time.Second, WithClock(clock))

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
		assert.Equal(t, StateClosed, cb.State())
	}
	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Second)

	_ = cb.Execute(func() error { return errBoom })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 1, 10*time.Second, WithClock(clock))

	_ = cb.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(11 * time.Second)
	require.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe while half-open")

	cb.Record(errBoom)
	assert.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicRecordedAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute, WithPanicRecovery(true))

	assert.Panics(t, func() {
		_ = cb.Execute(func() error { panic("adapter exploded") })
	})
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func breakersIn(t *testing.T, state State) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, metrics.BreakersByState.WithLabelValues("gauge_test", string(state)).Write(m))
	return m.GetGauge().GetValue()
}

func TestCircuitBreaker_GaugeFollowsStateAndRelease(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	a := NewCircuitBreaker("gauge_test", 1, time.Second, WithClock(clock))
	b := NewCircuitBreaker("gauge_test", 1, time.Second, WithClock(clock))
	assert.Equal(t, 2.0, breakersIn(t, StateClosed))

	a.Record(errBoom)
	assert.Equal(t, 1.0, breakersIn(t, StateClosed), "b stays closed")
	assert.Equal(t, 1.0, breakersIn(t, StateOpen))

	a.Release()
	a.Release()
	b.Release()
	assert.Equal(t, 0.0, breakersIn(t, StateClosed))
	assert.Equal(t, 0.0, breakersIn(t, StateOpen))

	// a released breaker keeps working but no longer moves the gauge
	clock.now = clock.now.Add(2 * time.Second)
	require.NoError(t, a.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, 0.0, breakersIn(t, StateClosed))
}
