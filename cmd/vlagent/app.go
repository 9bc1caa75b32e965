package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/eatd/vl-desktop-agent/internal/agent"
	"github.com/eatd/vl-desktop-agent/internal/bench"
	"github.com/eatd/vl-desktop-agent/internal/capture"
	"github.com/eatd/vl-desktop-agent/internal/config"
	"github.com/eatd/vl-desktop-agent/internal/events"
	"github.com/eatd/vl-desktop-agent/internal/input"
	"github.com/eatd/vl-desktop-agent/internal/model"
	"github.com/eatd/vl-desktop-agent/internal/prompt"
	"github.com/eatd/vl-desktop-agent/internal/state"
	"github.com/eatd/vl-desktop-agent/internal/trace"
)

const eventBuffer = 256

// app holds the components shared by run, serve and bench.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	source *capture.Source
	model  *model.Client
	traces *trace.Recorder
	bus    *events.Bus
	loop   *agent.Loop
	redis  *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	grabber, err := newGrabber(cfg)
	if err != nil {
		return nil, err
	}
	source := capture.NewSource(grabber, cfg.CaptureOptions(), logger.With("component", "capture"))

	provider, err := model.NewProvider(ctx, cfg.LLM.Provider, cfg.LLMConfig())
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	client := model.New(provider, cfg.ModelOptions(), logger.With("component", "model"))

	prompts, err := prompt.New(cfg.PromptOptions())
	if err != nil {
		return nil, err
	}

	inj, err := input.New(cfg.Input.Backend)
	if err != nil {
		return nil, err
	}
	if x, ok := inj.(*input.XDoTool); ok {
		if cfg.Input.XDoTool != "" {
			x.Bin = cfg.Input.XDoTool
		}
		x.TypeDelayMS = cfg.Input.TypeDelayMS
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		source: source,
		model:  client,
		traces: trace.NewRecorder(cfg.TracePath()),
		bus:    events.NewBus(eventBuffer, logger.With("component", "events")),
	}
	a.bus.Subscribe(events.LogSink{Logger: logger.With("component", "events")})

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.bus.Subscribe(events.NewRedisSink(a.redis, cfg.Redis.Channel))
		logger.Info("redis event sink enabled", "addr", cfg.Redis.Addr)
	}

	a.loop, err = agent.New(agent.Deps{
		Frames:   source,
		Model:    client,
		Prompts:  prompts,
		Executor: input.NewExecutor(inj),
		Trace:    a.traces,
		Events:   a.bus,
		Logger:   logger.With("component", "agent"),
	}, cfg.AgentOptions())
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newGrabber(cfg *config.Config) (capture.Grabber, error) {
	if cfg.Capture.StaticImage != "" {
		return capture.NewStaticGrabber(cfg.Capture.StaticImage)
	}
	command := cfg.Capture.Command
	if len(command) == 0 {
		command = capture.DefaultCommand()
	}
	return capture.NewExecGrabber(command)
}

// runtime returns a Runtime carrying the capture and event activities.
func (a *app) runtime() *agent.Runtime {
	rt := agent.NewRuntime(a.loop, a.logger.With("component", "runtime"))
	rt.Go("capture", a.source.Run)
	rt.Go("events", a.bus.Run)
	return rt
}

func (a *app) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

func taskStore(cfg *config.Config) *state.TaskStore {
	return state.NewTaskStore(filepath.Join(cfg.DataDir, "tasks.json"))
}

func benchStore(cfg *config.Config) *bench.Store {
	return bench.NewStore(filepath.Join(cfg.DataDir, "benchmarks"))
}
