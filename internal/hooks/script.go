package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
)

// ScriptHook runs a command for each event. The event type arrives in
// PLANLOOP_EVENT and the full event document, JSON-encoded, in
// PLANLOOP_CONTEXT.
type ScriptHook struct {
	name       string
	eventTypes []EventType
	enabled    bool
	command    string
	args       []string
}

// NewScriptHook creates a script hook from configuration
func NewScriptHook(config *Config) (Hook, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("script hook %s: command required", config.Name)
	}
	return &ScriptHook{
		name:       config.Name,
		eventTypes: config.Events,
		enabled:    config.Enabled,
		command:    config.Command,
		args:       config.Args,
	}, nil
}

func (h *ScriptHook) Name() string            { return h.name }
func (h *ScriptHook) EventTypes() []EventType { return h.eventTypes }
func (h *ScriptHook) Enabled() bool           { return h.enabled }

func (h *ScriptHook) Execute(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.command, h.args...)
	cmd.Env = append(os.Environ(),
		"PLANLOOP_EVENT="+string(event.Type),
		"PLANLOOP_CONTEXT="+string(payload),
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("script failed: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}

// WebhookHook POSTs the event document to a URL
type WebhookHook struct {
	name       string
	eventTypes []EventType
	enabled    bool
	url        string
	client     *http.Client
}

// NewWebhookHook creates a webhook hook from configuration
func NewWebhookHook(config *Config) (Hook, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook hook %s: url required", config.Name)
	}
	return &WebhookHook{
		name:       config.Name,
		eventTypes: config.Events,
		enabled:    config.Enabled,
		url:        config.URL,
		client:     &http.Client{},
	}, nil
}

func (h *WebhookHook) Name() string            { return h.name }
func (h *WebhookHook) EventTypes() []EventType { return h.eventTypes }
func (h *WebhookHook) Enabled() bool           { return h.enabled }

func (h *WebhookHook) Execute(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
