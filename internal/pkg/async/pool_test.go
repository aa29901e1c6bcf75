package async_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsreport/internal/pkg/async"
)

func TestPoolExecute(t *testing.T) {
	var running, peak atomic.Int32
	task := func(name string, value int) async.Task {
		return async.Task{Name: name, Execute: func(ctx context.Context) (any, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			return value, nil
		}}
	}

	results := async.NewPool(2).Execute(context.Background(), []async.Task{
		task("a", 1), task("b", 2), task("c", 3), task("d", 4),
	})
	require.Len(t, results, 4)
	assert.Equal(t, 3, results["c"].Data)
	assert.NoError(t, results["d"].Err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolErrorsAndPanics(t *testing.T) {
	boom := errors.New("boom")
	results := async.NewPool(0).Execute(context.Background(), []async.Task{
		{Name: "fails", Execute: func(context.Context) (any, error) { return nil, boom }},
		{Name: "panics", Execute: func(context.Context) (any, error) { panic("oops") }},
	})
	assert.ErrorIs(t, results["fails"].Err, boom)
	assert.ErrorContains(t, results["panics"].Err, "oops")
}

func TestPoolCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := async.NewPool(1).Execute(ctx, []async.Task{
		{Name: "a", Execute: func(ctx context.Context) (any, error) { return nil, ctx.Err() }},
		{Name: "b", Execute: func(ctx context.Context) (any, error) { return nil, ctx.Err() }},
	})
	require.Len(t, results, 2)
	assert.ErrorIs(t, results["a"].Err, context.Canceled)
	assert.ErrorIs(t, results["b"].Err, context.Canceled)
}
