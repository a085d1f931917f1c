package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	doc := []byte(`
connections:
  - id: mqtt-main
    protocol: mqtt
    name: Broker
    auto_connect: true
    auto_reconnect: true
    reconnect_delay: 2s
    max_reconnect_attempts: 5
    buffered: true
    settings:
      url: tcp://broker:1883
      topic_prefix: studio
  - id: ws-dash
    protocol: websocket
`)

	cfg, err := Load(doc)
	require.NoError(t, err)
	require.Len(t, cfg.Connections, 2)

	mqtt, ok := cfg.ByID("mqtt-main")
	require.True(t, ok)
	assert.Equal(t, "mqtt", mqtt.Protocol)
	assert.Equal(t, "Broker", mqtt.Name)
	assert.True(t, mqtt.AutoConnect)
	assert.Equal(t, 2*time.Second, mqtt.ReconnectDelay)
	assert.Equal(t, 5, mqtt.MaxReconnectAttempts)
	assert.True(t, mqtt.Buffered)
	assert.Equal(t, "tcp://broker:1883", mqtt.Settings["url"])

	ws, ok := cfg.ByID("ws-dash")
	require.True(t, ok)
	assert.Equal(t, "ws-dash", ws.Name, "name defaults to id")
	assert.Equal(t, DefaultReconnectDelay, ws.ReconnectDelay)

	_, ok = cfg.ByID("missing")
	assert.False(t, ok)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load([]byte("connections: [unterminated"))
	require.Error(t, err)
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	doc := []byte(`
connections:
  - id: same
    protocol: mqtt
  - id: same
    protocol: osc
`)
	_, err := Load(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate connection id")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ConnectionConfig
		wantErr bool
	}{
		{
			name:    "valid minimal",
			cfg:     ConnectionConfig{ID: "c1", Protocol: "osc"},
			wantErr: false,
		},
		{
			name:    "missing id",
			cfg:     ConnectionConfig{Protocol: "osc"},
			wantErr: true,
		},
		{
			name:    "missing protocol",
			cfg:     ConnectionConfig{ID: "c1"},
			wantErr: true,
		},
		{
			name:    "negative delay",
			cfg:     ConnectionConfig{ID: "c1", Protocol: "osc", ReconnectDelay: -time.Second},
			wantErr: true,
		},
		{
			name:    "negative attempts",
			cfg:     ConnectionConfig{ID: "c1", Protocol: "osc", MaxReconnectAttempts: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	cfg := ConnectionConfig{ID: "c1", Protocol: "mqtt"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultReconnectDelay, cfg.ReconnectDelay)
	assert.Equal(t, "c1", cfg.Name)
	assert.Zero(t, cfg.MaxReconnectAttempts, "zero means unlimited, left alone")
}
