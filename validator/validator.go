// Package validator provides preflight validation of a flow's declared
// connection requirements against live connection status. The graph
// executor calls ValidateFlow before running a flow; results are returned
// as data and never thrown, so the caller decides whether to block
// execution or just render warnings.
package validator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/virgilvox/clasp-flow-sub003/connstate"
)

// IssueCode identifies a validation failure or warning condition
type IssueCode string

// Issue codes produced by requirement classification
const (
	CodeMissingConnection IssueCode = "MISSING_CONNECTION"
	CodeInvalidConfig     IssueCode = "INVALID_CONFIG"
	CodeErrorState        IssueCode = "ERROR_STATE"
	CodeDisconnected      IssueCode = "DISCONNECTED"
	CodeReconnecting      IssueCode = "RECONNECTING"
	CodeUnstable          IssueCode = "UNSTABLE"
)

// Requirement is a connection requirement declared by a node's type
// definition. ControlID names the config field holding the connection id.
type Requirement struct {
	Protocol  string `json:"protocol"`
	ControlID string `json:"control_id"`
	Required  bool   `json:"required"`
	Label     string `json:"label"`
}

// Node is the slice of a node instance the validator needs: its identity
// and its configuration data.
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`
}

// StatusLookup resolves a connection id to its live state. The second
// return is false when no connection with that id exists.
type StatusLookup func(connectionID string) (connstate.State, bool)

// Issue represents a single validation problem
type Issue struct {
	Code        IssueCode `json:"code"`
	Severity    string    `json:"severity"` // "error", "warning"
	NodeID      string    `json:"node_id"`
	NodeName    string    `json:"node_name"`
	Label       string    `json:"label"`
	Message     string    `json:"message"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// Result contains the outcome of validating a node or a whole flow.
// Valid is true when there are no errors; warnings never affect validity.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// merge appends another result's issues and recomputes validity
func (r *Result) merge(other Result) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Valid = len(r.Errors) == 0
}

// Validator classifies connection requirements against live status.
// It is stateless; one instance serves the whole application.
type Validator struct {
	logger *slog.Logger
}

// New creates a validator
func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// ValidateNode classifies every requirement of one node instance
func (v *Validator) ValidateNode(node Node, requirements []Requirement, lookup StatusLookup) Result {
	result := Result{Valid: true, Errors: []Issue{}, Warnings: []Issue{}}

	v.logger.Debug("validating node connections",
		"node_id", node.ID,
		"node_type", node.Type,
		"requirements", len(requirements))

	for _, req := range requirements {
		issue, ok := v.classify(node, req, lookup)
		if ok {
			continue
		}
		if issue.Severity == "error" {
			result.Errors = append(result.Errors, issue)
		} else {
			result.Warnings = append(result.Warnings, issue)
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// classify evaluates one requirement. It returns ok=true when the
// requirement is satisfied with no issue.
func (v *Validator) classify(node Node, req Requirement, lookup StatusLookup) (Issue, bool) {
	label := req.Label
	if label == "" {
		label = req.Protocol
	}

	connectionID, _ := node.Config[req.ControlID].(string)
	if connectionID == "" {
		if !req.Required {
			return Issue{}, true
		}
		return v.issue(node, req, CodeMissingConnection, "error",
			fmt.Sprintf("%s connection is required but not configured", label),
			[]string{
				fmt.Sprintf("Select a %s connection in the node settings", req.Protocol),
				"Create a connection in the connections panel if none exists",
			}), false
	}

	state, exists := lookup(connectionID)
	if !exists {
		return v.issue(node, req, CodeInvalidConfig, "error",
			fmt.Sprintf("%s connection %q does not exist", label, connectionID),
			[]string{
				"The configured connection may have been deleted",
				"Re-select a connection in the node settings",
			}), false
	}

	switch state {
	case connstate.StateConnected:
		return Issue{}, true

	case connstate.StateConnecting, connstate.StateReconnecting:
		return v.issue(node, req, CodeReconnecting, "warning",
			fmt.Sprintf("%s connection %q is still %s", label, connectionID, state),
			[]string{"The connection may recover before the flow needs it"}), false

	case connstate.StateError:
		if req.Required {
			return v.issue(node, req, CodeErrorState, "error",
				fmt.Sprintf("%s connection %q is in an error state", label, connectionID),
				[]string{
					"Check the connection's error details",
					"Verify the endpoint address and credentials",
				}), false
		}
		return v.issue(node, req, CodeUnstable, "warning",
			fmt.Sprintf("%s connection %q is in an error state", label, connectionID),
			[]string{"This connection is optional; the node will run without it"}), false

	default: // idle, disconnected, disconnecting
		if req.Required {
			return v.issue(node, req, CodeDisconnected, "error",
				fmt.Sprintf("%s connection %q is not connected", label, connectionID),
				[]string{"Connect it before running the flow, or enable auto-connect"}), false
		}
		return Issue{}, true
	}
}

// issue builds an Issue for a node/requirement pair
func (v *Validator) issue(node Node, req Requirement, code IssueCode, severity, message string, suggestions []string) Issue {
	label := req.Label
	if label == "" {
		label = req.Protocol
	}
	return Issue{
		Code:        code,
		Severity:    severity,
		NodeID:      node.ID,
		NodeName:    node.Name,
		Label:       label,
		Message:     message,
		Suggestions: suggestions,
	}
}

// NodeRequirements pairs a node instance with its type's declared
// requirements for flow-level validation.
type NodeRequirements struct {
	Node         Node
	Requirements []Requirement
}

// ValidateFlow applies ValidateNode to every node and concatenates the
// results. The flow is valid when no node produced an error.
func (v *Validator) ValidateFlow(nodes []NodeRequirements, lookup StatusLookup) Result {
	result := Result{Valid: true, Errors: []Issue{}, Warnings: []Issue{}}

	for _, entry := range nodes {
		result.merge(v.ValidateNode(entry.Node, entry.Requirements, lookup))
	}

	v.logger.Debug("flow validation complete",
		"nodes", len(nodes),
		"errors", len(result.Errors),
		"warnings", len(result.Warnings))

	return result
}

// FormatResult renders a human-readable summary with "Errors:" and
// "Warnings:" sections, or a success line when both lists are empty.
func FormatResult(result Result) string {
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		return "All connection requirements satisfied."
	}

	var b strings.Builder

	if len(result.Errors) > 0 {
		b.WriteString("Errors:\n")
		for _, issue := range result.Errors {
			fmt.Fprintf(&b, "  - [%s] %s: %s\n", issue.Code, issue.NodeName, issue.Message)
		}
	}

	if len(result.Warnings) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Warnings:\n")
		for _, issue := range result.Warnings {
			fmt.Fprintf(&b, "  - [%s] %s: %s\n", issue.Code, issue.NodeName, issue.Message)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
