// Package kernel wires Mission Control's services together and runs the
// long-lived ones (queue controller, control API, config watcher) as one
// unit.
package kernel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	llmmetrics "missioncontrol/pkg/llm/middleware/metrics"

	"missioncontrol/pkg/approve"
	"missioncontrol/pkg/autoassign"
	"missioncontrol/pkg/config"
	"missioncontrol/pkg/eventlog"
	"missioncontrol/pkg/executor"
	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/loopctl"
	"missioncontrol/pkg/metrics"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/provider"
	"missioncontrol/pkg/publish"
	"missioncontrol/pkg/queue"
	"missioncontrol/pkg/tools"
	"missioncontrol/pkg/version"
	"missioncontrol/pkg/webui"
)

// Options override pieces of the wiring, mainly for tests.
type Options struct {
	// Clients replaces the provider factory.
	Clients executor.ClientFactory
	// DisableNetwork leaves network tools out of the registry.
	DisableNetwork bool
}

// Kernel owns every service of one Mission Control process.
type Kernel struct {
	Config config.Config
	Logger *logx.Logger

	Store     *persistence.Store
	Registry  *prometheus.Registry // nil when metrics are disabled
	Recorder  metrics.Recorder
	Guards    *loopctl.Controller
	Intake    *intake.Service
	Tools     *tools.Registry
	Executor  *executor.Executor
	Approver  *approve.Service
	Publisher *publish.Dispatcher
	Queue     *queue.Controller
	Server    *webui.Server

	events *eventlog.Writer
}

// New opens the database and wires every service from cfg, which must have
// its defaults applied (config.GetConfig). Call Close when done.
func New(cfg config.Config, opts Options) (*Kernel, error) {
	if cfg.Database == nil || cfg.Executor == nil || cfg.Export == nil || cfg.Server == nil || cfg.Metrics == nil || cfg.Refill == nil {
		return nil, fmt.Errorf("config sections missing - load the config first")
	}
	k := &Kernel{Config: cfg, Logger: logx.NewLogger("kernel"), Recorder: metrics.Nop()}

	dbPath := config.ResolvePath(cfg.Database.Path)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := persistence.Open(dbPath)
	if err != nil {
		return nil, logx.Wrap(err, "failed to open store")
	}
	k.Store = store

	var llmRecorder llmmetrics.Recorder = llmmetrics.Nop()
	if cfg.Metrics.Enabled {
		k.Registry = prometheus.NewRegistry()
		k.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), version.Collector())
		k.Recorder = metrics.NewPrometheusRecorder(k.Registry, cfg.Metrics.Namespace)
		llmRecorder = llmmetrics.NewPrometheusRecorder(k.Registry, cfg.Metrics.Namespace)
	}

	k.events, err = eventlog.NewWriter(config.ResolvePath(cfg.Export.NotificationsDir), "review-ready")
	if err != nil {
		_ = store.Close()
		return nil, logx.Wrap(err, "failed to open notification log")
	}

	// The queue is built last; everything that wakes it goes through here.
	trigger := func() {
		if k.Queue != nil {
			k.Queue.Trigger()
		}
	}

	k.Guards = loopctl.New(store, config.LoopLimits)
	k.Intake = intake.New(store, k.Guards)
	k.Intake.SetRecorder(k.Recorder)
	k.Intake.SetTrigger(trigger)

	exportDir := config.ResolvePath(cfg.Export.Dir)
	k.Tools = tools.NewDefaultRegistry(tools.Deps{
		Store:          store,
		Creator:        k.Intake,
		Trigger:        trigger,
		ExportDir:      exportDir,
		DisableNetwork: opts.DisableNetwork,
	})

	var social *publish.SocialPublisher
	if cfg.Export.SocialEnabled {
		social = publish.NewSocialPublisher(store, nil)
	}
	k.Publisher = publish.NewDispatcher(publish.NewExporter(exportDir), social)

	k.Approver = approve.New(store, k.Intake, k.Publisher)
	k.Approver.SetRecorder(k.Recorder)
	k.Approver.SetTrigger(trigger)
	k.Approver.SetMaxRetries(cfg.Executor.MaxRetries)

	clients := opts.Clients
	if clients == nil {
		clients = provider.NewFactory(cfg, llmRecorder)
	}
	k.Executor = executor.New(executor.Deps{
		Store:    store,
		Clients:  clients,
		Tools:    k.Tools,
		Reviewer: k.Approver,
		Producer: k.Intake,
		Notifier: publish.NewNotifier(k.events),
		Gate:     k.Intake,
		Recorder: k.Recorder,
		Options:  executor.OptionsFromConfig(cfg.Executor),
	})
	k.Executor.SetTrigger(trigger)

	k.Queue = queue.New(store, k.Executor, autoassign.New(store, nil), k.Intake, queue.OptionsFromConfig(cfg.Refill))
	k.Queue.SetRecorder(k.Recorder)

	var gatherer prometheus.Gatherer
	if k.Registry != nil {
		gatherer = k.Registry
	}
	k.Server = webui.NewServer(webui.Deps{
		Store:    store,
		Queue:    k.Queue,
		Executor: k.Executor,
		Reviewer: k.Approver,
		Creator:  k.Intake,
		Gatherer: gatherer,
		Password: serverPassword,
		User:     cfg.Server.User,
		Version:  version.Version,
	})

	k.Logger.Info("Kernel services initialized (db: %s)", dbPath)
	return k, nil
}

func serverPassword() string {
	v, err := config.GetSecret(config.EnvServerPassword)
	if err != nil {
		return ""
	}
	return v
}

// Run runs the queue controller, the control API (when enabled) and the
// config watcher until ctx is cancelled or one of them fails.
func (k *Kernel) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return k.Queue.Run(ctx) })

	if k.Config.Server.Enabled {
		if serverPassword() == "" {
			k.Logger.Warn("⚠️  %s is not set; the control API will reject every request", config.EnvServerPassword)
		}
		g.Go(func() error { return k.Server.Run(ctx, k.Config.Server.Addr) })
	}

	if config.ProjectDir() != "" {
		g.Go(func() error {
			return config.Watch(ctx, func(cfg config.Config) {
				k.Approver.SetMaxRetries(cfg.Executor.MaxRetries)
				k.Logger.Info("Applied config (max todo/agent %d, staging threshold %d)",
					cfg.Loop.MaxTodoPerAgent, cfg.Loop.StagingBlockThreshold)
			})
		})
	}

	k.Logger.Info("Mission Control running")
	err := g.Wait()
	k.Logger.Info("Mission Control stopped")
	return err
}

// Close waits for in-flight publishing and releases files and the database.
func (k *Kernel) Close() error {
	if k.Publisher != nil {
		k.Publisher.Wait()
	}
	if k.events != nil {
		if err := k.events.Close(); err != nil {
			k.Logger.Warn("failed to close notification log: %v", err)
		}
	}
	if k.Store != nil {
		return k.Store.Close()
	}
	return nil
}
