package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errDown     = errors.New("connection refused")
	errRejected = errors.New("duplicate key")
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBreaker(failures int) (*CircuitBreaker, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(&Config{
		Name:        "test",
		MaxFailures: failures,
		Timeout:     10 * time.Second,
		IsFailure:   func(err error) bool { return !errors.Is(err, errRejected) },
	})
	cb.now = c.now
	cb.lastStateChange = c.t
	return cb, c
}

func fail(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail(errDown)), errDown)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestIgnoredErrorsDoNotOpen(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail(errRejected))
	}
	_ = cb.Execute(ctx, fail(context.Canceled))

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestSuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail(errDown))
	require.NoError(t, cb.Execute(ctx, fail(nil)))
	_ = cb.Execute(ctx, fail(errDown))

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 1, cb.GetStats().ConsecutiveFails)
}

func TestHalfOpenProbe(t *testing.T) {
	cb, c := newTestBreaker(1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail(errDown))
	require.Equal(t, StateOpen, cb.GetState())

	c.t = c.t.Add(11 * time.Second)
	_ = cb.Execute(ctx, fail(errDown))
	assert.Equal(t, StateOpen, cb.GetState(), "failed probe reopens")

	c.t = c.t.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, fail(nil)))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestNilBreakerRunsCall(t *testing.T) {
	var cb *CircuitBreaker
	assert.ErrorIs(t, cb.Execute(context.Background(), fail(errDown)), errDown)
}

func TestPingReportsOpenCircuit(t *testing.T) {
	cb, c := newTestBreaker(1)
	ctx := context.Background()
	require.NoError(t, cb.Ping(ctx))

	_ = cb.Execute(ctx, fail(errDown))
	assert.ErrorIs(t, cb.Ping(ctx), ErrCircuitOpen)

	c.t = c.t.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, fail(nil)))
	assert.NoError(t, cb.Ping(ctx))
}
