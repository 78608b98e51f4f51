package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/cortexhub/cortex-dispatch/internal/classify"
	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/cortexhub/cortex-dispatch/internal/dispatch"
	"github.com/cortexhub/cortex-dispatch/internal/route"
)

// Scheduler owns the dev-mode periodic routing-table reload.
type Scheduler struct {
	cron       *cron.Cron
	configPath string
	pipeline   *dispatch.Pipeline
	logger     *slog.Logger
}

func New(configPath string, pipeline *dispatch.Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:       cron.New(),
		configPath: configPath,
		pipeline:   pipeline,
		logger:     logger,
	}
}

// Start registers the configured jobs and starts the cron loop.
// An empty reload schedule registers nothing; Start is then a no-op.
func (s *Scheduler) Start(reloadSpec string) error {
	if reloadSpec == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(reloadSpec, s.reloadRules); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("rule reload scheduled", "spec", reloadSpec)
	return nil
}

// Stop halts the cron loop, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// reloadRules re-reads the config file and swaps both rule tables.
// A broken config leaves the running tables untouched.
func (s *Scheduler) reloadRules() {
	if s.configPath == "" {
		return
	}
	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.logger.Warn("rule reload: config unreadable", "error", err)
		return
	}

	classifier, err := classify.FromConfig(cfg.Routing.ClassifierRules)
	if err != nil {
		s.logger.Warn("rule reload: classifier rules rejected", "error", err)
		return
	}

	table := route.TableFromConfig(cfg.Routing.RouterRules)
	if table == nil {
		table = route.DefaultRules()
	}
	if err := s.pipeline.Router().Replace(table); err != nil {
		s.logger.Warn("rule reload: router rules rejected", "error", err)
		return
	}
	s.pipeline.SetClassifier(classifier)
	s.logger.Info("routing tables reloaded",
		"classifier_rules", len(classifier.Rules()),
		"router_rules", len(s.pipeline.Router().Rules()))
}
