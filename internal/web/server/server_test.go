package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New(&Config{Address: ":0"}, nil)
	assert.Error(t, err)
}

func TestRunAndShutdown(t *testing.T) {
	cfg := DefaultConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	cfg.Address = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second

	srv, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	var hooks atomic.Int32
	srv.RegisterHook(func(ctx context.Context) error {
		hooks.Add(1)
		return nil
	})
	srv.RegisterHook(func(ctx context.Context) error {
		hooks.Add(1)
		return errors.New("hook failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	resp, err := http.Get("http://" + srv.Addr())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, int32(2), hooks.Load())
}

func TestRunListenError(t *testing.T) {
	cfg := DefaultConfig(http.NotFoundHandler())
	cfg.Address = "256.0.0.1:bad"

	srv, err := New(cfg, nil)
	require.NoError(t, err)

	assert.Error(t, srv.Run(context.Background()))
}
