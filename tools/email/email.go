// Package email provides the send_email tool. Delivery is injected so
// the runtime stays transport-agnostic; recipient, subject, and body
// limits are enforced again by the risk gate's validator upstream.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	castellan "github.com/castellan-ai/castellan"
)

// Deliverer hands a composed message to an outbound transport.
type Deliverer interface {
	Deliver(ctx context.Context, to, subject, body string) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, to, subject, body string) error

func (f DelivererFunc) Deliver(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

// Tool sends email through an injected Deliverer.
type Tool struct {
	deliver Deliverer
}

// Compile-time interface check.
var _ castellan.Tool = (*Tool)(nil)

// New creates an email Tool.
func New(d Deliverer) *Tool {
	return &Tool{deliver: d}
}

func (t *Tool) Definitions() []castellan.ToolDefinition {
	return []castellan.ToolDefinition{
		{
			Name:        "send_email",
			Description: "Send an email to a single recipient.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"to":{"type":"string","description":"Recipient address"},
				"subject":{"type":"string","description":"Subject line"},
				"body":{"type":"string","description":"Plain-text body"}
			},"required":["to","subject","body"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (castellan.ToolResult, error) {
	if name != "send_email" {
		return castellan.ToolResult{Error: "unknown email tool: " + name}, nil
	}
	var p struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return castellan.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if p.To == "" || !strings.Contains(p.To, "@") {
		return castellan.ToolResult{Error: "invalid recipient: " + p.To}, nil
	}
	if p.Subject == "" {
		return castellan.ToolResult{Error: "subject is required"}, nil
	}

	if err := t.deliver.Deliver(ctx, p.To, p.Subject, p.Body); err != nil {
		return castellan.ToolResult{Error: "delivery failed: " + err.Error()}, nil
	}
	return castellan.ToolResult{Content: fmt.Sprintf("Email sent to %s", p.To)}, nil
}
