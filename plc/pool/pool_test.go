package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honhatphi/shuttlegw/model"
	"github.com/honhatphi/shuttlegw/plc"
	"github.com/honhatphi/shuttlegw/plc/plcfake"
)

func TestPool_GetCreatesOnce(t *testing.T) {
	var created int32
	p := New(func(ctx context.Context, profile model.DeviceProfile) (plc.Connector, error) {
		atomic.AddInt32(&created, 1)
		return plcfake.New(), nil
	})

	profile := model.DeviceProfile{ID: "dev-1"}
	c1, err := p.Get(context.Background(), profile)
	require.NoError(t, err)
	c2, err := p.Get(context.Background(), profile)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
}

func TestPool_GetSingleFlightsConcurrentCallers(t *testing.T) {
	var created int32
	start := make(chan struct{})
	p := New(func(ctx context.Context, profile model.DeviceProfile) (plc.Connector, error) {
		<-start
		atomic.AddInt32(&created, 1)
		return plcfake.New(), nil
	})

	profile := model.DeviceProfile{ID: "dev-1"}
	const n = 10
	var wg sync.WaitGroup
	results := make([]plc.Connector, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			c, err := p.Get(context.Background(), profile)
			assert.NoError(t, err)
			results[i] = c
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestPool_GetLeavesSlotEmptyOnError(t *testing.T) {
	wantErr := errors.New("dial failed")
	var attempts int32
	p := New(func(ctx context.Context, profile model.DeviceProfile) (plc.Connector, error) {
		atomic.AddInt32(&attempts, 1)
		if atomic.LoadInt32(&attempts) == 1 {
			return nil, wantErr
		}
		return plcfake.New(), nil
	})

	profile := model.DeviceProfile{ID: "dev-1"}
	_, err := p.Get(context.Background(), profile)
	assert.ErrorIs(t, err, wantErr)

	c, err := p.Get(context.Background(), profile)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestPool_Peek(t *testing.T) {
	p := New(func(ctx context.Context, profile model.DeviceProfile) (plc.Connector, error) {
		return plcfake.New(), nil
	})

	_, ok := p.Peek("dev-1")
	assert.False(t, ok)

	_, err := p.Get(context.Background(), model.DeviceProfile{ID: "dev-1"})
	require.NoError(t, err)

	c, ok := p.Peek("dev-1")
	assert.True(t, ok)
	assert.NotNil(t, c)
}

func TestPool_Remove(t *testing.T) {
	p := New(func(ctx context.Context, profile model.DeviceProfile) (plc.Connector, error) {
		return plcfake.New(), nil
	})
	profile := model.DeviceProfile{ID: "dev-1"}
	c, err := p.Get(context.Background(), profile)
	require.NoError(t, err)
	fake := c.(*plcfake.Connector)
	require.True(t, fake.IsConnected())

	p.Remove("dev-1")

	_, ok := p.Peek("dev-1")
	assert.False(t, ok)
	assert.False(t, fake.IsConnected(), "Remove must close the removed connector")
}

func TestPool_RemoveUnknownIsNoop(t *testing.T) {
	p := New(func(ctx context.Context, profile model.DeviceProfile) (plc.Connector, error) {
		return plcfake.New(), nil
	})
	assert.NotPanics(t, func() { p.Remove("never-created") })
}

func TestPool_DisposeClosesEveryConnector(t *testing.T) {
	p := New(func(ctx context.Context, profile model.DeviceProfile) (plc.Connector, error) {
		return plcfake.New(), nil
	})
	var fakes []*plcfake.Connector
	for _, id := range []string{"a", "b", "c"} {
		c, err := p.Get(context.Background(), model.DeviceProfile{ID: id})
		require.NoError(t, err)
		fakes = append(fakes, c.(*plcfake.Connector))
	}

	p.Dispose()

	for _, f := range fakes {
		assert.False(t, f.IsConnected())
	}
	for _, id := range []string{"a", "b", "c"} {
		_, ok := p.Peek(id)
		assert.False(t, ok)
	}
}
