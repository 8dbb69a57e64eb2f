package raffle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_RejectsReentry(t *testing.T) {
	g := newGuard()
	ctx, release, err := g.acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, g.held(ctx))

	_, _, err = g.acquire(ctx)
	assert.ErrorIs(t, err, ErrReentrantCall)

	release()
	release()

	// A different guard does not treat the marker as its own.
	other := newGuard()
	_, releaseOther, err := other.acquire(ctx)
	require.NoError(t, err)
	releaseOther()
}

func TestGuard_WaitsForRelease(t *testing.T) {
	g := newGuard()
	_, release, err := g.acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, r, err := g.acquire(context.Background())
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired a held guard")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second caller never acquired the guard")
	}
}

func TestGuard_HonoursContext(t *testing.T) {
	g := newGuard()
	_, release, err := g.acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = g.acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
