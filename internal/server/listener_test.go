package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewListenerTCP(t *testing.T) {
	cfg := testConfig()
	cfg.Proto = "tcp"
	cfg.Addr = "127.0.0.1:0"

	l, err := newListener(cfg)
	require.NoError(t, err)
	defer l.Close()

	assert.NotNil(t, l.Addr())
}

func TestNewListenerKCP(t *testing.T) {
	cfg := testConfig()
	cfg.Proto = "kcp"
	cfg.Addr = "127.0.0.1:0"

	l, err := newListener(cfg)
	require.NoError(t, err)
	defer l.Close()

	assert.NotNil(t, l.Addr())
}

func TestNewListenerUnknownProto(t *testing.T) {
	cfg := testConfig()
	cfg.Proto = "quic"

	_, err := newListener(cfg)
	assert.Error(t, err)
}
