package metrics

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestServeBusyAddrReturnsAndLogs(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	done := make(chan struct{})
	go func() {
		Serve(context.Background(), ln.Addr().String(), zap.New(core))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve kept running on an address already in use")
	}
	assert.Equal(t, 1, logs.FilterMessage("metrics listener stopped").Len())
}

func TestServeExposesRegistryUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Serve(ctx, addr, zap.NewNop())
		close(done)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}

func TestServeEmptyAddrIsDisabled(t *testing.T) {
	Serve(context.Background(), "", zap.NewNop())
}
