package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/pgstatsmon/internal/pgclient"
)

func fakeClient() *pgclient.Client {
	return pgclient.New(nil, "fake", zerolog.Nop())
}

func TestClaimSucceedsOnFirstDial(t *testing.T) {
	p := New(func(ctx context.Context) (*pgclient.Client, error) {
		return fakeClient(), nil
	}, 3, zerolog.Nop())

	h, err := p.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, Claimed, p.State())
}

func TestClaimReusesIdleConnection(t *testing.T) {
	var dials int32
	p := New(func(ctx context.Context) (*pgclient.Client, error) {
		atomic.AddInt32(&dials, 1)
		return fakeClient(), nil
	}, 3, zerolog.Nop())

	h1, err := p.Claim(context.Background())
	require.NoError(t, err)
	h1.Release()
	assert.Equal(t, Idle, p.State())

	h2, err := p.Claim(context.Background())
	require.NoError(t, err)
	assert.Same(t, h1.Client, h2.Client)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

func TestCloseOfClaimedClientMarksBroken(t *testing.T) {
	p := New(func(ctx context.Context) (*pgclient.Client, error) {
		return fakeClient(), nil
	}, 3, zerolog.Nop())

	h, err := p.Claim(context.Background())
	require.NoError(t, err)
	h.Close()
	assert.Equal(t, Broken, p.State())
}

func TestClaimRetriesOnDialFailure(t *testing.T) {
	var attempts int32
	p := New(func(ctx context.Context) (*pgclient.Client, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, errors.New("connection refused")
		}
		return fakeClient(), nil
	}, 3, zerolog.Nop())

	start := time.Now()
	h, err := p.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClaimFailsAfterExhaustingRetries(t *testing.T) {
	p := New(func(ctx context.Context) (*pgclient.Client, error) {
		return nil, errors.New("connection refused")
	}, 2, zerolog.Nop())

	_, err := p.Claim(context.Background())
	require.Error(t, err)

	var cerr *ClaimError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrPoolFailed, cerr.Kind)
	assert.Equal(t, Failed, p.State())
}

func TestClaimRespectsContextCancellation(t *testing.T) {
	p := New(func(ctx context.Context) (*pgclient.Client, error) {
		return nil, errors.New("connection refused")
	}, 5, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := p.Claim(ctx)
	require.Error(t, err)
	var cerr *ClaimError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrClaimTimeout, cerr.Kind)
}

func TestStopRejectsFurtherClaims(t *testing.T) {
	p := New(func(ctx context.Context) (*pgclient.Client, error) {
		return fakeClient(), nil
	}, 3, zerolog.Nop())

	p.Stop()
	_, err := p.Claim(context.Background())
	require.Error(t, err)
	var cerr *ClaimError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrPoolStopping, cerr.Kind)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "claimed", Claimed.String())
	assert.Equal(t, "broken", Broken.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "stopped", Stopped.String())
}
