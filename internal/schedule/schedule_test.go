package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, expr := range []string{"0 2 * * *", "*/30 * * * * *", "@daily", "@every 1h"} {
		_, err := Parse(expr)
		assert.NoError(t, err, expr)
	}
	_, err := Parse("61 * * * *")
	assert.Error(t, err)
	_, err = Parse("not a schedule")
	assert.Error(t, err)
}

func TestNextRuns(t *testing.T) {
	from := time.Date(2024, 6, 15, 3, 0, 0, 0, time.UTC)
	runs, err := NextRuns("0 2 * * *", from, 2)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2024, 6, 16, 2, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 17, 2, 0, 0, 0, time.UTC),
	}, runs)
}

func TestRunner_InvalidExpression(t *testing.T) {
	r := NewRunner("bogus", func(context.Context) error { return nil }, nil)
	assert.Error(t, r.Run(context.Background()))
}

func TestRunner_FiresUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner("@every 1s", func(context.Context) error {
		calls.Add(1)
		cancel()
		return nil
	}, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}
