package config

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlattenDefaults(t *testing.T) {
	m, err := ToMap(Default())
	if err != nil {
		t.Fatal(err)
	}
	flat := Flatten(m)
	for _, key := range []string{
		"agent.max_steps",
		"agent.observe_every",
		"llm.api_key",
		"recovery.mode",
		"safety.blocked_hotkeys",
		"capture.command",
		"server.addr",
	} {
		if _, ok := flat[key]; !ok {
			t.Errorf("missing key %s", key)
		}
	}
	if _, ok := flat["safety"]; ok {
		t.Error("sections should not appear as keys")
	}
	if hotkeys, ok := flat["safety.blocked_hotkeys"].([]any); !ok || len(hotkeys) != len(Default().Safety.BlockedHotkeys) {
		t.Errorf("lists should stay single values, got %#v", flat["safety.blocked_hotkeys"])
	}
}

func TestUnflattenInvertsFlatten(t *testing.T) {
	m, err := ToMap(Default())
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unflatten(Flatten(m))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnflattenConflicts(t *testing.T) {
	tests := []map[string]any{
		{"llm": "x", "llm.model": "y"},
		{"llm.model": "y", "llm.model.name": "z"},
	}
	for _, flat := range tests {
		if _, err := Unflatten(flat); err == nil {
			t.Errorf("Unflatten(%v) should fail", flat)
		}
	}
}

func TestKeysSortedAndKnown(t *testing.T) {
	keys := Keys()
	if len(keys) == 0 {
		t.Fatal("no keys")
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys not sorted at %d: %s >= %s", i, keys[i-1], keys[i])
		}
	}
}

func TestIsSecretKey(t *testing.T) {
	tests := map[string]bool{
		"llm.api_key":          true,
		"telegram.token":       true,
		"redis.password":       true,
		"agent.history_tokens": false,
		"llm.model":            false,
		"log_level":            false,
	}
	for key, want := range tests {
		if got := IsSecretKey(key); got != want {
			t.Errorf("IsSecretKey(%s) = %v, want %v", key, got, want)
		}
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		in, want any
	}{
		{"sk-secret-key-1234", "***1234"},
		{"abcd", "***"},
		{"", ""},
		{nil, nil},
		{float64(7), float64(7)},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMaskSecretsLeavesOthers(t *testing.T) {
	flat := map[string]any{
		"llm.api_key":     "sk-abcdef",
		"redis.password":  "",
		"llm.model":       "qwen/qwen3-vl-8b",
		"agent.max_steps": float64(20),
	}
	want := map[string]any{
		"llm.api_key":     "***cdef",
		"redis.password":  "",
		"llm.model":       "qwen/qwen3-vl-8b",
		"agent.max_steps": float64(20),
	}
	if diff := cmp.Diff(want, MaskSecrets(flat)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if flat["llm.api_key"] != "sk-abcdef" {
		t.Error("input must not be modified")
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		def  any
		in   any
		want any
		bad  bool
	}{
		{name: "bool", def: false, in: "true", want: true},
		{name: "bad bool", def: false, in: "maybe", bad: true},
		{name: "number", def: float64(20), in: "16", want: float64(16)},
		{name: "bad number", def: float64(20), in: "many", bad: true},
		{name: "string", def: "info", in: "debug", want: "debug"},
		{name: "json list", def: []any{"alt+f4"}, in: `["alt+f4","win+r"]`, want: []any{"alt+f4", "win+r"}},
		{name: "comma list", def: []any{}, in: "alt+f4, win+r,", want: []any{"alt+f4", "win+r"}},
		{name: "null default", def: nil, in: "grim,-", want: []any{"grim", "-"}},
		{name: "typed value", def: float64(20), in: float64(5), want: float64(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce("k", tt.def, tt.in)
			if tt.bad {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApply(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-live-9876"

	next, err := Apply(cfg, map[string]any{
		"agent.max_steps":        "30",
		"agent.dry_run":          true,
		"llm.temperature":        0.4,
		"safety.blocked_hotkeys": "alt+f4,win+l",
		"llm.api_key":            "***9876",
	})
	if err != nil {
		t.Fatal(err)
	}
	if next.Agent.MaxSteps != 30 || !next.Agent.DryRun || next.LLM.Temperature != 0.4 {
		t.Errorf("changes not applied: %+v", next.Agent)
	}
	if diff := cmp.Diff([]string{"alt+f4", "win+l"}, next.Safety.BlockedHotkeys); diff != "" {
		t.Errorf("hotkeys (-want +got):\n%s", diff)
	}
	if next.LLM.APIKey != "sk-live-9876" {
		t.Errorf("masked secret should keep the stored key, got %q", next.LLM.APIKey)
	}
	if cfg.Agent.MaxSteps != Default().Agent.MaxSteps {
		t.Error("input config must not change")
	}
}

func TestApplyRejects(t *testing.T) {
	tests := []struct {
		name    string
		changes map[string]any
		want    error
	}{
		{"unknown key", map[string]any{"custom.setting": "value"}, ErrUnknownKey},
		{"section", map[string]any{"agent": "x"}, ErrUnknownKey},
		{"negative budget", map[string]any{"agent.max_steps": "-5"}, ErrInvalidSetting},
		{"fractional int", map[string]any{"agent.max_steps": 2.5}, ErrInvalidSetting},
		{"wrong type", map[string]any{"llm.model": float64(3)}, ErrInvalidSetting},
		{"bad mode", map[string]any{"recovery.mode": "panic"}, ErrInvalidSetting},
		{"bad pattern", map[string]any{"safety.blocked_patterns": `["(unclosed"]`}, ErrInvalidSetting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Apply(Default(), tt.changes); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
