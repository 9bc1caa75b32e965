package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/agent"
	"github.com/eatd/vl-desktop-agent/internal/capture"
	"github.com/eatd/vl-desktop-agent/internal/geometry"
	"github.com/eatd/vl-desktop-agent/internal/model"
	"github.com/eatd/vl-desktop-agent/internal/prompt"
	"github.com/eatd/vl-desktop-agent/internal/recovery"
	"github.com/eatd/vl-desktop-agent/internal/safety"
	"github.com/eatd/vl-desktop-agent/pkg/llm"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	TraceDir string `json:"trace_dir"`
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
	// Rotation of LogFile, in megabytes, files and days.
	LogMaxSizeMB  int `json:"log_max_size_mb"`
	LogMaxBackups int `json:"log_max_backups"`
	LogMaxAgeDays int `json:"log_max_age_days"`

	LLM struct {
		Provider          string  `json:"provider"`
		BaseURL           string  `json:"base_url"`
		APIKey            string  `json:"api_key"`
		Model             string  `json:"model"`
		MaxTokens         int     `json:"max_tokens"`
		Temperature       float32 `json:"temperature"`
		TimeoutSeconds    int     `json:"timeout_seconds"`
		MaxRetries        int     `json:"max_retries"`
		RequestsPerMinute int     `json:"requests_per_minute"`
		UseTools          bool    `json:"use_tools"`
	} `json:"llm"`

	Agent struct {
		MaxSteps        int  `json:"max_steps"`
		DryRun          bool `json:"dry_run"`
		SettleMS        int  `json:"settle_ms"`
		FrameTimeoutMS  int  `json:"frame_timeout_ms"`
		FrameRetries    int  `json:"frame_retries"`
		ActionTimeoutMS int  `json:"action_timeout_ms"`
		ObserveEvery    int  `json:"observe_every"`
		ReferenceWidth  int  `json:"reference_width"`
		ReferenceHeight int  `json:"reference_height"`
		HistoryWindow   int  `json:"history_window"`
		HistoryTokens   int  `json:"history_tokens"`
		SaveFrames      bool `json:"save_frames"`
		Preview         bool `json:"preview"`
		PreviewWidth    int  `json:"preview_width"`
	} `json:"agent"`

	Recovery struct {
		NoEffect   float64 `json:"no_effect_threshold"`
		StuckAfter int     `json:"stuck_after"`
		Mode       string  `json:"mode"`
		WaitMS     int     `json:"wait_ms"`
	} `json:"recovery"`

	Safety safety.Policy `json:"safety"`

	Capture struct {
		Command     []string `json:"command"`
		StaticImage string   `json:"static_image"`
		IntervalMS  int      `json:"interval_ms"`
		MaxFailures int      `json:"max_failures"`
	} `json:"capture"`

	Input struct {
		// Backend is "xdotool" or "nop".
		Backend     string `json:"backend"`
		XDoTool     string `json:"xdotool"`
		TypeDelayMS int    `json:"type_delay_ms"`
	} `json:"input"`

	Server struct {
		Addr string `json:"addr"`
	} `json:"server"`

	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`

	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
		Channel  string `json:"channel"`
	} `json:"redis"`
}

// Default returns the configuration written on first load.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".vlagent"),
		LogLevel:      "info",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
	}
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "http://localhost:1234/v1"
	cfg.LLM.Model = "qwen/qwen3-vl-8b"
	cfg.LLM.MaxTokens = 512
	cfg.LLM.Temperature = 0.1
	cfg.LLM.TimeoutSeconds = 60
	cfg.LLM.MaxRetries = 3

	ao := agent.DefaultOptions()
	cfg.Agent.MaxSteps = ao.MaxSteps
	cfg.Agent.SettleMS = int(ao.Settle / time.Millisecond)
	cfg.Agent.FrameTimeoutMS = int(ao.FrameTimeout / time.Millisecond)
	cfg.Agent.FrameRetries = ao.FrameRetries
	cfg.Agent.ActionTimeoutMS = int(ao.ActionTimeout / time.Millisecond)
	cfg.Agent.ObserveEvery = ao.ObserveEvery
	cfg.Agent.ReferenceWidth = ao.Reference.W
	cfg.Agent.ReferenceHeight = ao.Reference.H
	cfg.Agent.HistoryWindow = 10
	cfg.Agent.SaveFrames = ao.SaveFrames
	cfg.Agent.PreviewWidth = ao.PreviewWidth

	ro := recovery.DefaultOptions()
	cfg.Recovery.NoEffect = ro.NoEffect
	cfg.Recovery.StuckAfter = ro.StuckAfter
	cfg.Recovery.Mode = string(ro.Mode)
	cfg.Recovery.WaitMS = int(ro.Wait / time.Millisecond)

	cfg.Safety = safety.DefaultPolicy()

	co := capture.DefaultOptions()
	cfg.Capture.IntervalMS = int(co.Interval / time.Millisecond)
	cfg.Capture.MaxFailures = co.MaxFailures

	cfg.Input.Backend = "xdotool"
	cfg.Input.XDoTool = "xdotool"
	cfg.Input.TypeDelayMS = 12

	cfg.Server.Addr = "127.0.0.1:8765"
	return cfg
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	// Override from env (highest precedence)
	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("AGENT_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := getenv("AGENT_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := getenv("AGENT_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := getenv("GEMINI_API_KEY"); v != "" && cfg.LLM.Provider == "gemini" {
		cfg.LLM.APIKey = v
	}
	if v := getenv("AGENT_DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AGENT_DRY_RUN: %w", err)
		}
		cfg.Agent.DryRun = b
	}
	if v := getenv("AGENT_MAX_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENT_MAX_STEPS: %w", err)
		}
		cfg.Agent.MaxSteps = n
	}
	if v := getenv("AGENT_TRACE_DIR"); v != "" {
		cfg.TraceDir = v
	}
	if v := getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	return nil
}

// Validate rejects settings the agent cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Agent.MaxSteps <= 0 {
		problems = append(problems, "agent.max_steps must be positive")
	}
	if c.Agent.ReferenceWidth <= 0 || c.Agent.ReferenceHeight <= 0 {
		problems = append(problems, "agent reference size must be positive")
	}
	if c.Agent.SettleMS < 0 || c.Agent.FrameTimeoutMS < 0 || c.Agent.FrameRetries < 0 || c.Agent.ActionTimeoutMS < 0 {
		problems = append(problems, "agent timings must not be negative")
	}
	if c.Agent.ObserveEvery < 0 {
		problems = append(problems, "agent.observe_every must not be negative")
	}
	if c.Recovery.StuckAfter <= 0 {
		problems = append(problems, "recovery.stuck_after must be positive")
	}
	switch recovery.Mode(c.Recovery.Mode) {
	case recovery.ModeHint, recovery.ModeWait:
	default:
		problems = append(problems, fmt.Sprintf("recovery.mode %q must be hint or wait", c.Recovery.Mode))
	}
	if c.Safety.MinConfidence < 0 || c.Safety.MinConfidence > 1 {
		problems = append(problems, "safety.min_confidence must be within [0, 1]")
	}
	if _, err := safety.New(c.Safety); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.LLM.Provider {
	case "", "openai", "lmstudio", "vllm", "gemini":
	default:
		problems = append(problems, fmt.Sprintf("unknown llm.provider %q", c.LLM.Provider))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// TracePath is the trace root, defaulting to <data_dir>/traces.
func (c *Config) TracePath() string {
	if c.TraceDir != "" {
		return c.TraceDir
	}
	return filepath.Join(c.DataDir, "traces")
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *Config) Reference() geometry.Size {
	return geometry.Size{W: c.Agent.ReferenceWidth, H: c.Agent.ReferenceHeight}
}

func (c *Config) LLMConfig() *llm.Config {
	return &llm.Config{
		BaseURL:     c.LLM.BaseURL,
		APIKey:      c.LLM.APIKey,
		Model:       c.LLM.Model,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
		Timeout:     time.Duration(c.LLM.TimeoutSeconds) * time.Second,
	}
}

func (c *Config) ModelOptions() model.Options {
	opts := model.DefaultOptions()
	if c.LLM.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(c.LLM.TimeoutSeconds) * time.Second
	}
	if c.LLM.MaxRetries > 0 {
		opts.Retry.MaxAttempts = c.LLM.MaxRetries
	}
	opts.RequestsPerMinute = c.LLM.RequestsPerMinute
	return opts
}

func (c *Config) PromptOptions() prompt.Options {
	return prompt.Options{
		Model:         c.LLM.Model,
		Reference:     c.Reference(),
		Window:        c.Agent.HistoryWindow,
		HistoryTokens: c.Agent.HistoryTokens,
	}
}

func (c *Config) AgentOptions() agent.Options {
	return agent.Options{
		MaxSteps:      c.Agent.MaxSteps,
		DryRun:        c.Agent.DryRun,
		Settle:        ms(c.Agent.SettleMS),
		FrameTimeout:  ms(c.Agent.FrameTimeoutMS),
		FrameRetries:  c.Agent.FrameRetries,
		ActionTimeout: ms(c.Agent.ActionTimeoutMS),
		ObserveEvery:  c.Agent.ObserveEvery,
		Reference:     c.Reference(),
		Policy:        c.Safety,
		Recovery: recovery.Options{
			NoEffect:   c.Recovery.NoEffect,
			StuckAfter: c.Recovery.StuckAfter,
			Mode:       recovery.Mode(c.Recovery.Mode),
			Wait:       ms(c.Recovery.WaitMS),
		},
		SaveFrames:   c.Agent.SaveFrames,
		Preview:      c.Agent.Preview,
		PreviewWidth: c.Agent.PreviewWidth,
		UseTools:     c.LLM.UseTools,
		Model:        c.LLM.Model,
	}
}

func (c *Config) CaptureOptions() capture.Options {
	opts := capture.DefaultOptions()
	if c.Capture.IntervalMS > 0 {
		opts.Interval = ms(c.Capture.IntervalMS)
	}
	if c.Capture.MaxFailures > 0 {
		opts.MaxFailures = c.Capture.MaxFailures
	}
	return opts
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as flat dot-separated keys.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// Apply returns a copy of cfg with changes applied. Keys must exist in the
// default configuration, strings are converted to the key's type, and the
// result must validate. A secret given back in its masked form is left
// unchanged.
func Apply(cfg *Config, changes map[string]any) (*Config, error) {
	defaults, err := ListValues(Default(), false)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	for key, v := range changes {
		def, known := defaults[key]
		if !known {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if IsSecretKey(key) && v == Mask(flat[key]) && v != flat[key] {
			continue
		}
		if flat[key], err = coerce(key, def, v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSetting, err)
		}
	}

	tree, err := Unflatten(flat)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	next := new(Config)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(next); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSetting, err)
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSetting, err)
	}
	return next, nil
}

// File edits the configuration file at Path. Environment overrides are
// never written back. Edits within one process are serialized.
type File struct {
	Path string
}

var fileMu sync.Mutex

// Values returns the file's settings with secrets masked.
func (f File) Values() (map[string]any, error) {
	cfg, err := readFile(f.Path)
	if err != nil {
		return nil, err
	}
	return ListValues(cfg, true)
}

// Update applies changes and writes the file. Nothing is written unless
// every change is accepted. It returns the new settings, masked.
func (f File) Update(changes map[string]any) (map[string]any, error) {
	fileMu.Lock()
	defer fileMu.Unlock()
	cfg, err := readFile(f.Path)
	if err != nil {
		return nil, err
	}
	next, err := Apply(cfg, changes)
	if err != nil {
		return nil, err
	}
	if err := Save(f.Path, next); err != nil {
		return nil, err
	}
	return ListValues(next, true)
}

// GetValue reads one key from the file, creating it with defaults first.
func GetValue(path, key string) (any, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return v, nil
}

// SetValue sets one key in the file. See Apply for what is accepted.
func SetValue(path, key, value string) error {
	_, err := File{Path: path}.Update(map[string]any{key: value})
	return err
}
