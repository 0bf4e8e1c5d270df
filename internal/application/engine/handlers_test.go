package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
)

func TestEchoHandler(t *testing.T) {
	h := EchoHandler{}

	res, err := h.Execute(context.Background(), NodeInput{
		Config:  map[string]any{"payload": map[string]any{"msg": "hi"}},
		Trigger: domain.TriggerPayload{Data: map[string]any{"name": "Ada"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"msg": "hi"}, res.Output)

	res, err = h.Execute(context.Background(), NodeInput{
		Config:  map[string]any{},
		Trigger: domain.TriggerPayload{Data: map[string]any{"name": "Ada"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ada"}, res.Output)
}

func TestConditionHandler(t *testing.T) {
	h := ConditionHandler{}

	tests := []struct {
		name    string
		config  map[string]any
		branch  string
		wantErr bool
	}{
		{"eq match", map[string]any{"left": "a", "operator": "eq", "right": "a"}, "true", false},
		{"eq mismatch", map[string]any{"left": "a", "operator": "eq", "right": "b"}, "false", false},
		{"default operator is eq", map[string]any{"left": "x", "right": "x"}, "true", false},
		{"ne", map[string]any{"left": "a", "operator": "ne", "right": "b"}, "true", false},
		{"gt numeric", map[string]any{"left": float64(5), "operator": "gt", "right": float64(3)}, "true", false},
		{"lt numeric strings", map[string]any{"left": "2", "operator": "lt", "right": "10"}, "true", false},
		{"contains", map[string]any{"left": "hello world", "operator": "contains", "right": "world"}, "true", false},
		{"exists on nil", map[string]any{"left": nil, "operator": "exists"}, "false", false},
		{"gt non-numeric errors", map[string]any{"left": "abc", "operator": "gt", "right": "1"}, "", true},
		{"unknown operator errors", map[string]any{"left": "a", "operator": "between", "right": "b"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.Execute(context.Background(), NodeInput{Config: tt.config})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.branch}, res.Branches)
			assert.Equal(t, tt.branch, res.Output["branch"])
		})
	}
}

func TestDelayHandler(t *testing.T) {
	h := DelayHandler{}

	start := time.Now()
	res, err := h.Execute(context.Background(), NodeInput{
		Config: map[string]any{"duration": "20ms"},
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(20), res.Output["delayed_ms"])

	_, err = h.Execute(context.Background(), NodeInput{
		Config: map[string]any{"duration": "not-a-duration"},
	})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Execute(ctx, NodeInput{Config: map[string]any{"duration": "10s"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"echoed":true}`))
		case "/fail":
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	h := NewHTTPHandler(srv.Client())

	res, err := h.Execute(context.Background(), NodeInput{
		Config: map[string]any{
			"url":     srv.URL + "/ok",
			"method":  "post",
			"body":    map[string]any{"k": "v"},
			"headers": map[string]any{"X-Api-Key": "secret"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Output["status"])
	assert.Equal(t, map[string]any{"echoed": true}, res.Output["body"])

	_, err = h.Execute(context.Background(), NodeInput{
		Config: map[string]any{"url": srv.URL + "/fail"},
	})
	assert.ErrorContains(t, err, "status 502")

	_, err = h.Execute(context.Background(), NodeInput{Config: map[string]any{}})
	assert.ErrorContains(t, err, "requires a url")
}

func TestTransformHandler(t *testing.T) {
	h := TransformHandler{}
	assert.True(t, h.ErrorTolerant())

	res, err := h.Execute(context.Background(), NodeInput{
		Config: map[string]any{"fields": map[string]any{"out": "value"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"out": "value"}, res.Output)

	_, err = h.Execute(context.Background(), NodeInput{Config: map[string]any{}})
	assert.ErrorContains(t, err, "requires a fields map")
}
