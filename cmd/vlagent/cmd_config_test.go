package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eatd/vl-desktop-agent/internal/config"
)

func useConfigPath(t *testing.T) string {
	t.Helper()
	old := cfgPath
	cfgPath = filepath.Join(t.TempDir(), "config.json")
	t.Cleanup(func() { cfgPath = old })
	if err := config.Save(cfgPath, config.Default()); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestConfigSetReportsValidationError(t *testing.T) {
	path := useConfigPath(t)

	err := configSetCmd.RunE(configSetCmd, []string{"agent.max_steps", "-5"})
	if !errors.Is(err, config.ErrInvalidSetting) {
		t.Fatalf("expected ErrInvalidSetting, got %v", err)
	}
	if !strings.Contains(err.Error(), "agent.max_steps must be positive") {
		t.Errorf("error should name the failed check: %v", err)
	}
	if v, _ := config.GetValue(path, "agent.max_steps"); v != float64(config.Default().Agent.MaxSteps) {
		t.Errorf("rejected value was written: %v", v)
	}
}

func TestConfigSetUnknownKeySuggestsSection(t *testing.T) {
	useConfigPath(t)

	err := configSetCmd.RunE(configSetCmd, []string{"agent.maxsteps", "5"})
	if !errors.Is(err, config.ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if !strings.Contains(err.Error(), "agent.max_steps") {
		t.Errorf("expected a suggestion from the agent section: %v", err)
	}
}

func TestConfigSetAccepts(t *testing.T) {
	path := useConfigPath(t)

	if err := configSetCmd.RunE(configSetCmd, []string{"recovery.mode", "wait"}); err != nil {
		t.Fatal(err)
	}
	if v, _ := config.GetValue(path, "recovery.mode"); v != "wait" {
		t.Errorf("recovery.mode = %v", v)
	}
}

func TestPrintSettings(t *testing.T) {
	values := map[string]any{
		"safety.blocked_hotkeys": []any{"alt+f4"},
		"safety.edge_margin":     float64(8),
		"capture.command":        nil,
		"llm.model":              "qwen",
	}
	var buf bytes.Buffer
	printSettings(&buf, values, "safety.")
	out := buf.String()
	if !strings.Contains(out, `["alt+f4"]`) || !strings.Contains(out, "safety.edge_margin") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "llm.model") || strings.Contains(out, "capture.command") {
		t.Errorf("prefix filter ignored:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "safety.blocked_hotkeys") {
		t.Errorf("expected 2 sorted lines, got %q", lines)
	}
}
