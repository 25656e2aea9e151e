package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanex-id/integrations/internal/metrics"
)

func echoHandler(ctx context.Context, req Request) (Response, error) {
	return Response{"echo": req.String("value")}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	require.NoError(t, r.Register("webhook", "send_webhook", echoHandler, nil, "Send a webhook"))

	h, ok := r.Get("webhook", "send_webhook")
	require.True(t, ok)
	resp, err := h(context.Background(), Request{"value": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", resp["echo"])

	entry, ok := r.Entry("webhook", "send_webhook")
	require.True(t, ok)
	assert.Equal(t, "Send a webhook", entry.Description)
	assert.Equal(t, "webhook.send_webhook", entry.Key())
}

func TestRegistry_GetMissingIsNotAnError(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	h, ok := r.Get("nope", "nothing")
	assert.False(t, ok)
	assert.Nil(t, h)
	assert.False(t, r.Has("nope", "nothing"))
}

func TestRegistry_RegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	tests := []struct {
		name    string
		domain  string
		service string
		handler Handler
	}{
		{"empty domain", "", "svc", echoHandler},
		{"empty service", "dom", "", echoHandler},
		{"nil handler", "dom", "svc", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.Register(tt.domain, tt.service, tt.handler, nil, ""))
		})
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DuplicateReplaces(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	first := func(ctx context.Context, req Request) (Response, error) { return Response{"v": 1}, nil }
	second := func(ctx context.Context, req Request) (Response, error) { return Response{"v": 2}, nil }

	require.NoError(t, r.Register("d", "s", first, nil, ""))
	require.NoError(t, r.Register("d", "s", second, nil, ""))

	assert.Equal(t, 1, r.Len())
	resp := r.Invoke(context.Background(), "d", "s", nil)
	assert.Equal(t, 2, resp["v"])
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.Register("slack", "send_message", echoHandler, nil, ""))
	require.NoError(t, r.Register("jira", "get_ticket", echoHandler, nil, ""))
	require.NoError(t, r.Register("jira", "create_ticket", echoHandler, nil, ""))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "jira.create_ticket", snap[0].Key())
	assert.Equal(t, "jira.get_ticket", snap[1].Key())
	assert.Equal(t, "slack.send_message", snap[2].Key())
	assert.Equal(t, []string{"jira", "slack"}, snap.Domains())
	assert.Len(t, snap.ByDomain("jira"), 2)

	// Later mutation does not affect the snapshot.
	r.UnregisterDomain("jira")
	assert.Len(t, snap, 3)
	assert.Len(t, r.Snapshot(), 1)
}

func TestRegistry_UnregisterDomain(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.Register("a", "one", echoHandler, nil, ""))
	require.NoError(t, r.Register("a", "two", echoHandler, nil, ""))
	require.NoError(t, r.Register("b", "one", echoHandler, nil, ""))

	assert.Equal(t, 2, r.UnregisterDomain("a"))
	assert.Equal(t, 0, r.UnregisterDomain("a"))
	assert.True(t, r.Has("b", "one"))
}

func TestRegistry_Invoke(t *testing.T) {
	m := metrics.NewMetrics()
	r := NewRegistry(zerolog.Nop(), WithMetrics(m))

	require.NoError(t, r.Register("d", "ok", echoHandler, nil, ""))
	require.NoError(t, r.Register("d", "fail", func(ctx context.Context, req Request) (Response, error) {
		return nil, MissingFields("message")
	}, nil, ""))
	require.NoError(t, r.Register("d", "panic", func(ctx context.Context, req Request) (Response, error) {
		panic("boom")
	}, nil, ""))

	t.Run("success envelope", func(t *testing.T) {
		resp := r.Invoke(context.Background(), "d", "ok", Request{"value": "hi"})
		assert.True(t, resp.Success())
		assert.Equal(t, "hi", resp["echo"])
	})

	t.Run("error envelope", func(t *testing.T) {
		resp := r.Invoke(context.Background(), "d", "fail", nil)
		assert.False(t, resp.Success())
		assert.Equal(t, "message is required", resp.ErrorMessage())
	})

	t.Run("panic is recovered", func(t *testing.T) {
		resp := r.Invoke(context.Background(), "d", "panic", nil)
		assert.False(t, resp.Success())
		assert.Contains(t, resp.ErrorMessage(), "boom")
	})

	t.Run("unknown service", func(t *testing.T) {
		resp := r.Invoke(context.Background(), "d", "missing", nil)
		assert.False(t, resp.Success())
		assert.Contains(t, resp.ErrorMessage(), "service not registered")
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceInvocationsTotal.WithLabelValues("d", "ok", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceInvocationsTotal.WithLabelValues("d", "fail", "error")))
}

func TestRegistry_Call(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.Register("d", "s", echoHandler, nil, ""))

	resp, err := r.Call(context.Background(), "d", "s", nil)
	require.NoError(t, err)
	assert.NotContains(t, resp, "success")

	_, err = r.Call(context.Background(), "d", "other", nil)
	assert.True(t, errors.Is(err, ErrServiceNotFound))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Register("d", fmt.Sprintf("s%d", i%5), echoHandler, nil, "")
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Snapshot()
			r.Get("d", "s1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, r.Len())
}
