package async

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/stretchr/testify/assert"
)

func TestSafeGo_Success(t *testing.T) {
	var executed atomic.Bool

	<-SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	assert.True(t, executed.Load())
}

func TestSafeGo_LogsError(t *testing.T) {
	var buf bytes.Buffer
	ctx := observability.WithLogger(context.Background(), observability.NewLogger(observability.DebugLevel, &buf))

	<-SafeGo(ctx, time.Second, "failing task", func(ctx context.Context) error {
		return errors.New("test error")
	})

	assert.Contains(t, buf.String(), "test error")
	assert.Contains(t, buf.String(), "failing task")
}

func TestSafeGo_Timeout(t *testing.T) {
	var timedOut atomic.Bool

	<-SafeGo(context.Background(), 20*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			timedOut.Store(true)
		}
		return ctx.Err()
	})

	assert.True(t, timedOut.Load())
}

func TestSafeGo_DetachedFromParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	var ctxErr atomic.Value
	<-SafeGo(parent, time.Second, "detached", func(ctx context.Context) error {
		ctxErr.Store(ctx.Err() == nil)
		return nil
	})

	assert.Equal(t, true, ctxErr.Load())
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	ctx := observability.WithLogger(context.Background(), observability.NewLogger(observability.DebugLevel, &buf))

	assert.NotPanics(t, func() {
		<-SafeGoNoError(ctx, time.Second, "panicky", func(ctx context.Context) {
			panic("boom")
		})
	})
	assert.Contains(t, buf.String(), "PANIC")
}
