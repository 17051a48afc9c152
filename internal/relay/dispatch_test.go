package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stringNormalizer struct{}

func (stringNormalizer) Normalize(raw string) (NormalizedMessage, bool, error) {
	switch raw {
	case "":
		return NormalizedMessage{}, false, nil
	case "garbage":
		return NormalizedMessage{}, false, errors.New("cannot parse")
	}
	return directMsg(raw), true, nil
}

// handledService records HandleIncoming calls and the context they saw.
type handledService struct {
	Service
	mu      sync.Mutex
	msgs    []NormalizedMessage
	ctxErrs []error
	panicOn string
}

func (s *handledService) HandleIncoming(ctx context.Context, msg NormalizedMessage) Outcome {
	if msg.Text == s.panicOn {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return Outcome{State: StateSent}
}

func TestNormalizeLogsMalformedEvents(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	msg, ok := Normalize[string](stringNormalizer{}, PlatformTelegram, "hello", logger)
	assert.True(t, ok)
	assert.Equal(t, "hello", msg.Text)

	_, ok = Normalize[string](stringNormalizer{}, PlatformTelegram, "", logger)
	assert.False(t, ok)
	assert.Zero(t, logs.Len(), "non-text events are skipped silently")

	_, ok = Normalize[string](stringNormalizer{}, PlatformTelegram, "garbage", logger)
	assert.False(t, ok)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "inbound event dropped", logs.All()[0].Message)
}

func TestDispatcherRunsAcceptedEventsAfterCancel(t *testing.T) {
	svc := &handledService{}
	d := NewDispatcher(svc, PlatformTelegram, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, Ingest[string](ctx, d, stringNormalizer{}, "one"))
	assert.True(t, Ingest[string](ctx, d, stringNormalizer{}, "two"))
	assert.False(t, Ingest[string](ctx, d, stringNormalizer{}, ""))
	assert.False(t, Ingest[string](ctx, d, stringNormalizer{}, "garbage"))
	d.Wait()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Len(t, svc.msgs, 2)
	for _, err := range svc.ctxErrs {
		assert.NoError(t, err, "handlers are detached from the listener's cancellation")
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	svc := &handledService{panicOn: "explode"}
	d := NewDispatcher(svc, PlatformDiscord, 0, zap.New(core))

	d.Dispatch(context.Background(), directMsg("explode"))
	d.Dispatch(context.Background(), directMsg("fine"))
	d.Wait()

	require.Equal(t, 1, logs.FilterMessage("handler panic").Len())
	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.msgs, 1)
	assert.Equal(t, "fine", svc.msgs[0].Text)
}
