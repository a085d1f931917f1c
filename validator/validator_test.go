package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virgilvox/clasp-flow-sub003/connstate"
)

// fixedLookup builds a StatusLookup over a static id -> state table
func fixedLookup(states map[string]connstate.State) StatusLookup {
	return func(id string) (connstate.State, bool) {
		state, ok := states[id]
		return state, ok
	}
}

func mqttNode(connectionID string) Node {
	cfg := map[string]any{}
	if connectionID != "" {
		cfg["connection"] = connectionID
	}
	return Node{ID: "node-1", Type: "mqtt-publish", Name: "MQTT Publish", Config: cfg}
}

func mqttRequirement(required bool) Requirement {
	return Requirement{
		Protocol:  "mqtt",
		ControlID: "connection",
		Required:  required,
		Label:     "MQTT Broker",
	}
}

func TestClassificationTable(t *testing.T) {
	tests := []struct {
		name         string
		connectionID string
		required     bool
		state        connstate.State
		exists       bool
		wantCode     IssueCode
		wantSeverity string
	}{
		{"unconfigured optional is ok", "", false, 0, false, "", ""},
		{"unconfigured required is missing", "", true, 0, false, CodeMissingConnection, "error"},
		{"unknown id is invalid config", "ghost", true, 0, false, CodeInvalidConfig, "error"},
		{"connected is ok", "mqtt-1", true, connstate.StateConnected, true, "", ""},
		{"connecting warns", "mqtt-1", true, connstate.StateConnecting, true, CodeReconnecting, "warning"},
		{"reconnecting warns", "mqtt-1", true, connstate.StateReconnecting, true, CodeReconnecting, "warning"},
		{"error required is an error", "mqtt-1", true, connstate.StateError, true, CodeErrorState, "error"},
		{"error optional is unstable", "mqtt-1", false, connstate.StateError, true, CodeUnstable, "warning"},
		{"disconnected required is an error", "mqtt-1", true, connstate.StateDisconnected, true, CodeDisconnected, "error"},
		{"disconnected optional is ok", "mqtt-1", false, connstate.StateDisconnected, true, "", ""},
	}

	v := New(nil)

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			states := map[string]connstate.State{}
			if test.exists {
				states[test.connectionID] = test.state
			}

			result := v.ValidateNode(
				mqttNode(test.connectionID),
				[]Requirement{mqttRequirement(test.required)},
				fixedLookup(states))

			if test.wantCode == "" {
				assert.True(t, result.Valid)
				assert.Empty(t, result.Errors)
				assert.Empty(t, result.Warnings)
				return
			}

			if test.wantSeverity == "error" {
				require.Len(t, result.Errors, 1)
				assert.Empty(t, result.Warnings)
				assert.Equal(t, test.wantCode, result.Errors[0].Code)
				assert.False(t, result.Valid)
			} else {
				require.Len(t, result.Warnings, 1)
				assert.Empty(t, result.Errors)
				assert.Equal(t, test.wantCode, result.Warnings[0].Code)
				assert.True(t, result.Valid, "warnings never affect validity")
			}
		})
	}
}

func TestMissingConnectionYieldsSingleError(t *testing.T) {
	v := New(nil)

	result := v.ValidateNode(mqttNode(""), []Requirement{mqttRequirement(true)}, fixedLookup(nil))

	require.Len(t, result.Errors, 1)
	assert.Equal(t, CodeMissingConnection, result.Errors[0].Code)
	assert.Equal(t, "node-1", result.Errors[0].NodeID)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors[0].Suggestions)
}

func TestOptionalErrorConnectionYieldsSingleWarning(t *testing.T) {
	v := New(nil)

	result := v.ValidateNode(
		mqttNode("mqtt-1"),
		[]Requirement{mqttRequirement(false)},
		fixedLookup(map[string]connstate.State{"mqtt-1": connstate.StateError}))

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, CodeUnstable, result.Warnings[0].Code)
	assert.Empty(t, result.Errors)
	assert.True(t, result.Valid)
}

func TestValidateNodeMultipleRequirements(t *testing.T) {
	v := New(nil)
	node := Node{
		ID:   "node-2",
		Type: "bridge",
		Name: "Bridge",
		Config: map[string]any{
			"source": "ws-1",
			"sink":   "mqtt-1",
		},
	}
	requirements := []Requirement{
		{Protocol: "websocket", ControlID: "source", Required: true},
		{Protocol: "mqtt", ControlID: "sink", Required: true},
	}
	lookup := fixedLookup(map[string]connstate.State{
		"ws-1":   connstate.StateConnected,
		"mqtt-1": connstate.StateDisconnected,
	})

	result := v.ValidateNode(node, requirements, lookup)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, CodeDisconnected, result.Errors[0].Code)
	assert.False(t, result.Valid)
}

func TestValidateFlowConcatenatesResults(t *testing.T) {
	v := New(nil)
	lookup := fixedLookup(map[string]connstate.State{
		"mqtt-1": connstate.StateError,
	})

	nodes := []NodeRequirements{
		{Node: mqttNode("mqtt-1"), Requirements: []Requirement{mqttRequirement(true)}},
		{Node: mqttNode("mqtt-1"), Requirements: []Requirement{mqttRequirement(false)}},
		{Node: mqttNode(""), Requirements: []Requirement{mqttRequirement(false)}},
	}

	result := v.ValidateFlow(nodes, lookup)

	assert.Len(t, result.Errors, 1)
	assert.Len(t, result.Warnings, 1)
	assert.False(t, result.Valid)
}

func TestValidateFlowEmptyIsValid(t *testing.T) {
	v := New(nil)
	result := v.ValidateFlow(nil, fixedLookup(nil))
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestFormatResult(t *testing.T) {
	v := New(nil)
	lookup := fixedLookup(map[string]connstate.State{
		"mqtt-1": connstate.StateError,
	})
	nodes := []NodeRequirements{
		{Node: mqttNode("mqtt-1"), Requirements: []Requirement{mqttRequirement(true)}},
		{Node: mqttNode("mqtt-1"), Requirements: []Requirement{mqttRequirement(false)}},
	}

	formatted := FormatResult(v.ValidateFlow(nodes, lookup))

	assert.Contains(t, formatted, "Errors:")
	assert.Contains(t, formatted, "Warnings:")
	assert.Contains(t, formatted, string(CodeErrorState))
	assert.Contains(t, formatted, string(CodeUnstable))
	assert.True(t, strings.Index(formatted, "Errors:") < strings.Index(formatted, "Warnings:"))
}

func TestFormatResultSuccess(t *testing.T) {
	formatted := FormatResult(Result{Valid: true})
	assert.Equal(t, "All connection requirements satisfied.", formatted)
}

func TestLabelFallsBackToProtocol(t *testing.T) {
	v := New(nil)
	req := Requirement{Protocol: "osc", ControlID: "connection", Required: true}

	result := v.ValidateNode(mqttNode(""), []Requirement{req}, fixedLookup(nil))

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "osc", result.Errors[0].Label)
	assert.Contains(t, result.Errors[0].Message, "osc")
}
