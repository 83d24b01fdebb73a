// Package runtime assembles the application: buses, providers, agents,
// task store, director, cron, and gateways, wired from one Config.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/AtharvJoshigit/valuablehelper/internal/agent"
	"github.com/AtharvJoshigit/valuablehelper/internal/bus"
	"github.com/AtharvJoshigit/valuablehelper/internal/config"
	"github.com/AtharvJoshigit/valuablehelper/internal/cron"
	"github.com/AtharvJoshigit/valuablehelper/internal/director"
	"github.com/AtharvJoshigit/valuablehelper/internal/gateway"
	"github.com/AtharvJoshigit/valuablehelper/internal/gateway/telegram"
	"github.com/AtharvJoshigit/valuablehelper/internal/gateway/ws"
	"github.com/AtharvJoshigit/valuablehelper/internal/observability"
	"github.com/AtharvJoshigit/valuablehelper/internal/provider"
	"github.com/AtharvJoshigit/valuablehelper/internal/tasks"
	"github.com/AtharvJoshigit/valuablehelper/internal/tools"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// PlannerAgentID is the default agent that drives unassigned tasks.
const PlannerAgentID = "planner"

// Runtime is the explicit application context: every component the
// process runs, reachable without global state.
type Runtime struct {
	Config *config.Config

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Prom    *prometheus.Registry

	EventBus   *bus.EventBus
	CommandBus *bus.CommandBus

	Providers *provider.Registry
	Registry  *tools.Registry
	Agents    *agent.Manager

	Store    *tasks.Store
	Watcher  *tasks.Watcher
	Director *director.Director
	Cron     *cron.Service

	Gateways map[string]gateway.Adapter
	wsServer *ws.Adapter

	tracerShutdown func(context.Context) error
	httpServer     *httpServer
	cancel         context.CancelFunc
	group          *errgroup.Group
}

// New builds the full runtime from config. Provider construction failures
// are logged and skipped; everything else is fatal.
func New(cfg *config.Config) (*Runtime, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "valuablehelper",
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	events := bus.NewEventBus(logger)
	commands := bus.NewCommandBus()

	store := tasks.NewStore(cfg.Tasks.File, events, logger)

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.BuiltinConfig{}); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}
	if err := tools.RegisterTaskTools(registry, store); err != nil {
		return nil, fmt.Errorf("register task tools: %w", err)
	}

	providers := buildProviders(cfg, logger)

	executor := agent.NewExecutor(registry, events, metrics, logger, agent.ExecutorConfig{
		Timeout:        cfg.Executor.Timeout,
		MaxConcurrency: cfg.Executor.MaxConcurrency,
		Guardrails: agent.Guardrails{
			AllowedTools:    cfg.Executor.AllowedTools,
			MaxResultLength: cfg.Executor.MaxResultLength,
		},
		ValidateArgs: true,
	})

	seedConfig := agentSeed(cfg)
	factory := func(id string, agentCfg models.AgentConfig, reg *tools.Registry, memory *agent.Memory) (*agent.Instance, error) {
		if reg == nil {
			reg = registry
		}
		providerName := agentCfg.Provider
		if providerName == "" {
			providerName = cfg.LLM.DefaultProvider
		}
		p, err := providers.Get(providerName)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", id, err)
		}
		return agent.NewInstance(id, agentCfg, p, reg, executor, agent.InstanceOptions{
			Memory:      memory,
			MaxMessages: cfg.Agent.MaxMessages,
			CompactTail: cfg.Agent.CompactTail,
			Logger:      logger,
			Metrics:     metrics,
		})
	}
	agents := agent.NewManager(factory)

	dir := director.New(store, events, func(id string) (director.AgentRunner, error) {
		inst, err := agents.GetOrCreate(id, seedConfig, registry)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}, director.Config{
		MaxConcurrent:     cfg.Director.MaxConcurrentTasks,
		WatchdogInterval:  cfg.Director.WatchdogInterval,
		InactivityTimeout: cfg.Director.InactivityTimeout,
		MaxTotalTime:      cfg.Director.MaxTaskDuration,
		MaxToolCalls:      cfg.Director.MaxToolCalls,
		DefaultAgent:      PlannerAgentID,
	}, director.Options{Logger: logger, Metrics: metrics, Tracer: tracer})

	rt := &Runtime{
		Config:         cfg,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
		Prom:           promRegistry,
		EventBus:       events,
		CommandBus:     commands,
		Providers:      providers,
		Registry:       registry,
		Agents:         agents,
		Store:          store,
		Director:       dir,
		Cron:           cron.NewService(logger),
		Gateways:       make(map[string]gateway.Adapter),
		tracerShutdown: tracerShutdown,
	}

	if cfg.Tasks.Watch {
		rt.Watcher = tasks.NewWatcher(store, events, logger)
	}
	if err := rt.buildGateways(); err != nil {
		return nil, err
	}
	rt.observeEvents()
	return rt, nil
}

// buildProviders constructs every configured LLM adapter. A provider that
// fails to construct is skipped with a log line; the process keeps the
// rest.
func buildProviders(cfg *config.Config, logger *slog.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	for name, pc := range cfg.LLM.Providers {
		var (
			p   provider.Provider
			err error
		)
		switch name {
		case "anthropic":
			p, err = provider.NewAnthropic(provider.AnthropicConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
		case "openai":
			p, err = provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
		case "bedrock":
			p, err = provider.NewBedrock(provider.BedrockConfig{
				Region:       pc.Region,
				DefaultModel: pc.DefaultModel,
			})
		default:
			logger.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		if err != nil {
			logger.Warn("provider unavailable", "provider", name, "error", err)
			continue
		}
		registry.Register(p)
		logger.Info("provider registered", "provider", name)
	}
	return registry
}

func agentSeed(cfg *config.Config) models.AgentConfig {
	return models.AgentConfig{
		Model:              cfg.Agent.Model,
		Provider:           cfg.Agent.Provider,
		SystemPrompt:       cfg.Agent.SystemPrompt,
		MaxSteps:           cfg.Agent.MaxSteps,
		MaxTokens:          cfg.Agent.MaxTokens,
		SensitiveToolNames: cfg.Agent.SensitiveTools,
	}
}

func (r *Runtime) buildGateways() error {
	gw := r.Config.Gateways

	if gw.Telegram.Enabled {
		adapter, err := telegram.New(telegram.Config{
			Token:          gw.Telegram.BotToken,
			AllowedChatIDs: gw.Telegram.AllowedChatIDs,
			Logger:         r.Logger,
		})
		if err != nil {
			return fmt.Errorf("telegram gateway: %w", err)
		}
		r.Gateways[adapter.Name()] = adapter
	}

	if gw.WebSocket.Enabled {
		adapter := ws.New(ws.Config{Path: gw.WebSocket.Path, Logger: r.Logger})
		r.Gateways[adapter.Name()] = adapter
		r.wsServer = adapter
	}
	return nil
}

// observeEvents wires the ambient subscribers: per-type publish counters,
// the tasks-by-status gauge, and the approval notice log.
func (r *Runtime) observeEvents() {
	r.EventBus.SubscribeAll(func(_ context.Context, ev *models.Event) {
		r.Metrics.RecordEventPublished(string(ev.Type))
	})
	r.EventBus.Subscribe(models.EventTaskStatusChanged, func(_ context.Context, ev *models.Event) {
		old, _ := ev.Payload["old_status"].(models.TaskStatus)
		next, _ := ev.Payload["new_status"].(models.TaskStatus)
		r.Metrics.RecordTaskTransition(string(old), string(next))
		r.refreshTaskGauges()
	})
	for _, t := range []models.EventType{models.EventTaskCreated, models.EventTaskDeleted, models.EventPlanUpdated} {
		r.EventBus.Subscribe(t, func(_ context.Context, _ *models.Event) {
			r.refreshTaskGauges()
		})
	}
	r.EventBus.Subscribe(models.EventPermissionRequest, func(_ context.Context, ev *models.Event) {
		r.Logger.Warn("task awaiting human approval",
			"task_id", ev.Payload["task_id"], "tools", ev.Payload["tools"])
	})
}

func (r *Runtime) refreshTaskGauges() {
	for status, count := range r.Store.CountByStatus() {
		r.Metrics.SetTasksByStatus(string(status), count)
	}
}

// Start brings every component up and begins consuming commands. It
// returns once startup is complete; component goroutines keep running
// until Stop.
func (r *Runtime) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	r.group = group

	r.EventBus.Publish(runCtx, models.NewEvent(models.EventSystemStartup, map[string]any{
		"providers": r.Providers.Names(),
		"gateways":  len(r.Gateways),
	}))

	if r.Watcher != nil {
		group.Go(func() error {
			return r.Watcher.Run(groupCtx)
		})
	}

	if err := r.Director.Start(runCtx); err != nil {
		return err
	}

	r.registerCronJobs()
	if err := r.Cron.Start(runCtx); err != nil {
		return err
	}

	for name, adapter := range r.Gateways {
		if err := adapter.Start(runCtx); err != nil {
			return fmt.Errorf("start %s gateway: %w", name, err)
		}
		a := adapter
		group.Go(func() error {
			r.pumpGateway(groupCtx, a)
			return nil
		})
	}

	group.Go(func() error {
		return r.consumeCommands(groupCtx)
	})

	r.httpServer = newHTTPServer(r)
	group.Go(func() error {
		return r.httpServer.run(groupCtx)
	})

	r.Logger.Info("runtime started",
		"addr", r.Config.Server.Addr(),
		"providers", r.Providers.Names(),
		"gateways", len(r.Gateways))
	return nil
}

// Stop shuts components down in dependency order and waits for the
// goroutine group.
func (r *Runtime) Stop(ctx context.Context) error {
	r.Logger.Info("runtime stopping")
	r.EventBus.Publish(ctx, models.NewEvent(models.EventSystemShutdown, nil))

	var firstErr error
	record := func(stage string, err error) {
		if err != nil {
			r.Logger.Error("shutdown stage failed", "stage", stage, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", stage, err)
			}
		}
	}

	record("cron", r.Cron.Stop(ctx))
	for name, adapter := range r.Gateways {
		record(name, adapter.Stop(ctx))
	}
	r.CommandBus.Close()
	record("director", r.Director.Stop(ctx))

	if r.cancel != nil {
		r.cancel()
	}
	if r.group != nil {
		record("workers", r.group.Wait())
	}

	record("event bus", r.EventBus.Close(ctx))
	if r.tracerShutdown != nil {
		record("tracer", r.tracerShutdown(ctx))
	}
	r.Logger.Info("runtime stopped")
	return firstErr
}

// registerCronJobs adds the heartbeat plus every configured prompt job.
func (r *Runtime) registerCronJobs() {
	err := r.Cron.AddJob("heartbeat", "60s", func(ctx context.Context, _ map[string]any) error {
		r.EventBus.Publish(ctx, models.NewEvent(models.EventHeartbeat, map[string]any{
			"job": "heartbeat",
		}))
		return nil
	}, nil)
	if err != nil {
		r.Logger.Error("heartbeat job rejected", "error", err)
	}

	for _, job := range r.Config.Cron.Jobs {
		chatID := job.ChatID
		if chatID == "" {
			chatID = "cron:" + job.Name
		}
		prompt := job.Prompt
		err := r.Cron.AddJob(job.Name, job.Schedule, func(ctx context.Context, args map[string]any) error {
			return r.CommandBus.Send(models.NewUserMessageEvent(chatID, prompt, "cron"))
		}, nil)
		if err != nil {
			r.Logger.Error("cron job rejected", "job", job.Name, "error", err)
		}
	}
}

// pumpGateway forwards one adapter's inbound events onto the command bus.
func (r *Runtime) pumpGateway(ctx context.Context, adapter gateway.Adapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-adapter.Events():
			if !ok {
				return
			}
			if err := r.CommandBus.Send(ev); err != nil {
				r.Logger.Warn("command bus rejected event", "error", err, "type", ev.Type)
				return
			}
			r.Metrics.CommandQueueDepth.Set(float64(r.CommandBus.Len()))
		}
	}
}

// consumeCommands is the single command-bus consumer: it routes chat
// traffic to per-chat agents and hands their streams back to the
// originating gateway.
func (r *Runtime) consumeCommands(ctx context.Context) error {
	seed := agentSeed(r.Config)
	for {
		ev, err := r.CommandBus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || err == bus.ErrClosed {
				return nil
			}
			return err
		}
		r.Metrics.CommandQueueDepth.Set(float64(r.CommandBus.Len()))

		switch ev.Type {
		case models.EventUserMessage:
			r.handleChatInput(ctx, ev, ev.Text(), seed)
		case models.EventUserApproval:
			token := "no"
			if ev.Approved() {
				token = "yes"
			}
			r.handleChatInput(ctx, ev, token, seed)
		default:
			r.Logger.Warn("unroutable command", "type", ev.Type)
		}
	}
}

func (r *Runtime) handleChatInput(ctx context.Context, ev *models.Event, input string, seed models.AgentConfig) {
	chatID := ev.ChatID()
	if chatID == "" {
		r.Logger.Warn("command without chat_id dropped", "type", ev.Type)
		return
	}
	logCtx := observability.WithChatID(ctx, chatID)

	inst, err := r.Agents.GetOrCreate(chatID, seed, r.Registry)
	if err != nil {
		r.Logger.Error("no agent for chat", "chat_id", chatID, "error", err)
		return
	}
	runCtx, cancelRun := context.WithCancel(logCtx)
	chunks, err := inst.Run(runCtx, input)
	if err != nil {
		cancelRun()
		r.Logger.Error("agent run rejected", "chat_id", chatID, "error", err)
		return
	}

	adapter, ok := r.Gateways[ev.Source]
	if !ok {
		// No render surface (cron-injected prompts): drain so the run
		// completes and memory is updated.
		go func() {
			defer cancelRun()
			for range chunks {
			}
		}()
		return
	}
	go func() {
		defer cancelRun()
		if err := adapter.Render(runCtx, chatID, chunks); err != nil {
			// The run emits until its channel is consumed or its context
			// ends; cancel and drain so the agent is free for the next
			// message instead of blocking mid-stream.
			cancelRun()
			for range chunks {
			}
			if ctx.Err() == nil {
				r.Logger.Warn("render failed", "gateway", adapter.Name(), "chat_id", chatID, "error", err)
			}
		}
	}()
}

// ShutdownTimeout is how long Stop is given during signal-driven exits.
const ShutdownTimeout = 30 * time.Second
