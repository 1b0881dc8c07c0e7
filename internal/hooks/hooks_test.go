package hooks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/planloop/internal/errors"
)

// fakeHook records invocations and fails on demand
type fakeHook struct {
	name    string
	events  []EventType
	enabled bool
	fail    error
	block   time.Duration
	calls   int
}

func (f *fakeHook) Name() string            { return f.name }
func (f *fakeHook) EventTypes() []EventType { return f.events }
func (f *fakeHook) Enabled() bool           { return f.enabled }

func (f *fakeHook) Execute(ctx context.Context, event *Event) error {
	f.calls++
	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.fail
}

func TestRegistry_TriggerRunsMatchingHooks(t *testing.T) {
	r := NewRegistry(nil)

	onEpic := &fakeHook{name: "epic", events: []EventType{EventEpicCompleted}, enabled: true}
	onHalt := &fakeHook{name: "halt", events: []EventType{EventRunHalted}, enabled: true}
	require.NoError(t, r.Register(onEpic, 0, FailureWarn))
	require.NoError(t, r.Register(onHalt, 0, FailureWarn))

	results, err := r.Trigger(context.Background(), NewEvent(EventEpicCompleted, "run-1", "plan-a", nil))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, onEpic.calls)
	assert.Equal(t, 0, onHalt.calls)
}

func TestRegistry_DisabledHooksAreSkipped(t *testing.T) {
	r := NewRegistry(nil)
	h := &fakeHook{name: "off", events: []EventType{EventRunStarted}, enabled: false}
	require.NoError(t, r.Register(h, 0, FailureWarn))

	assert.False(t, r.HasHooksFor(EventRunStarted))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_FailureModes(t *testing.T) {
	boom := fmt.Errorf("boom")

	tests := []struct {
		name    string
		mode    FailureMode
		wantErr bool
	}{
		{"ignore swallows", FailureIgnore, false},
		{"warn swallows", FailureWarn, false},
		{"fail propagates", FailureFail, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			h := &fakeHook{name: "h", events: []EventType{EventTaskFailed}, enabled: true, fail: boom}
			require.NoError(t, r.Register(h, 0, tt.mode))

			results, err := r.Trigger(context.Background(), NewEvent(EventTaskFailed, "run-1", "", nil))
			require.Len(t, results, 1)
			assert.False(t, results[0].Success)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrCodeHookFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_HookTimeout(t *testing.T) {
	r := NewRegistry(nil)
	h := &fakeHook{name: "slow", events: []EventType{EventRunStarted}, enabled: true, block: time.Second}
	require.NoError(t, r.Register(h, 20*time.Millisecond, FailureWarn))

	results, err := r.Trigger(context.Background(), NewEvent(EventRunStarted, "run-1", "", nil))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "timed out")
}

func TestRegistry_UnknownFailureModeRejected(t *testing.T) {
	r := NewRegistry(nil)
	h := &fakeHook{name: "h", events: []EventType{EventRunStarted}, enabled: true}
	assert.Error(t, r.Register(h, 0, FailureMode("explode")))
}

func TestRegistry_RegisterFromConfig(t *testing.T) {
	r := NewRegistry(nil)

	err := r.RegisterFromConfig(&Config{
		Name:    "notify",
		Type:    "script",
		Events:  []EventType{EventPlanCompleted},
		Enabled: true,
		Command: "true",
	})
	require.NoError(t, err)
	assert.True(t, r.HasHooksFor(EventPlanCompleted))

	err = r.RegisterFromConfig(&Config{Name: "bad", Type: "carrier-pigeon", Enabled: true})
	assert.Error(t, err)
}

func TestScriptHook_EnvironmentCarriesEvent(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "out")
	script := filepath.Join(dir, "hook.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\nprintf '%s\\n%s\\n' \"$PLANLOOP_EVENT\" \"$PLANLOOP_CONTEXT\" > "+outFile+"\n"), 0o755))

	hook, err := NewScriptHook(&Config{
		Name:    "capture",
		Type:    "script",
		Events:  []EventType{EventEpicCompleted},
		Enabled: true,
		Command: script,
	})
	require.NoError(t, err)

	event := NewEvent(EventEpicCompleted, "run-1", "plan-a", map[string]any{"epic_id": "tk-9"})
	require.NoError(t, hook.Execute(context.Background(), event))

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "epic_completed")
	assert.Contains(t, string(data), `"epic_id":"tk-9"`)
}

func TestScriptHook_FailureIncludesStderr(t *testing.T) {
	hook, err := NewScriptHook(&Config{
		Name:    "fails",
		Enabled: true,
		Command: "sh",
		Args:    []string{"-c", "echo nope >&2; exit 3"},
	})
	require.NoError(t, err)

	execErr := hook.Execute(context.Background(), NewEvent(EventTaskFailed, "run-1", "", nil))
	require.Error(t, execErr)
	assert.Contains(t, execErr.Error(), "nope")
}

func TestWebhookHook_PostsEventDocument(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotContentType = req.Header.Get("Content-Type")
		buf := make([]byte, req.ContentLength)
		_, _ = req.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook, err := NewWebhookHook(&Config{
		Name:    "webhook",
		Enabled: true,
		Events:  []EventType{EventRunHalted},
		URL:     srv.URL,
	})
	require.NoError(t, err)

	event := NewEvent(EventRunHalted, "run-1", "plan-a", map[string]any{"reason": "stopped: budget"})
	require.NoError(t, hook.Execute(context.Background(), event))
	assert.Equal(t, "application/json", gotContentType)
	assert.Contains(t, string(gotBody), "run_halted")
	assert.Contains(t, string(gotBody), "stopped: budget")
}

func TestWebhookHook_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hook, err := NewWebhookHook(&Config{Name: "webhook", Enabled: true, URL: srv.URL})
	require.NoError(t, err)

	assert.Error(t, hook.Execute(context.Background(), NewEvent(EventRunStarted, "run-1", "", nil)))
}
