package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/marcelocantos/vssh/internal/audit"
	"github.com/marcelocantos/vssh/internal/config"
	"github.com/marcelocantos/vssh/internal/logging"
	"github.com/marcelocantos/vssh/internal/metrics"
	"github.com/marcelocantos/vssh/internal/pipeline"
	"github.com/marcelocantos/vssh/internal/policy"
	"github.com/marcelocantos/vssh/internal/shell"
)

// env is everything a session needs besides its streams.
type env struct {
	cfg       *config.Config
	log       *zap.Logger
	policy    pipeline.Checker
	observers []shell.Observer
}

func setup(fsys afero.Fs, opts *rootOptions) (*env, error) {
	path := opts.configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadFrom(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	logCfg := logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development}
	if cfg.Log.Path != "" {
		logCfg.OutputPaths = []string{cfg.Log.Path}
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	e := &env{cfg: cfg, log: log}

	var rules []policy.Rule
	if cfg.Policy.Builtin {
		rules = policy.Builtin()
	}
	var script *policy.Script
	if cfg.Policy.Script != "" {
		if script, err = policy.Load(fsys, cfg.Policy.Script); err != nil {
			return nil, err
		}
		log.Debug("policy script loaded", zap.String("path", script.Path()))
	}
	// Left nil when there is nothing to consult.
	if len(rules) > 0 || script != nil {
		e.policy = policy.New(rules, script, log.Named("policy"))
	}

	if cfg.Audit.Enabled {
		al, err := audit.NewLogger(fsys, cfg.Audit.Path)
		if err != nil {
			// Continue without audit logging.
			log.Warn("audit log unavailable", zap.String("path", cfg.Audit.Path), zap.Error(err))
		} else {
			e.observers = append(e.observers, shell.ObserverFunc(func(rep *pipeline.Report) {
				if err := al.LogRun(rep); err != nil {
					log.Warn("audit write failed", zap.String("run", rep.ID), zap.Error(err))
				}
			}))
		}
	}

	if cfg.Metrics.Textfile != "" {
		m := metrics.New()
		textfile := cfg.Metrics.Textfile
		e.observers = append(e.observers, shell.ObserverFunc(func(rep *pipeline.Report) {
			m.Observe(rep)
			if err := m.WriteTextfile(textfile); err != nil {
				log.Warn("metrics write failed", zap.String("path", textfile), zap.Error(err))
			}
		}))
	}
	return e, nil
}

// executor returns a pipeline executor wired to this environment.
func (e *env) executor() *pipeline.Executor {
	return &pipeline.Executor{
		Logger: e.log.Named("pipeline"),
		Policy: e.policy,
	}
}

func (e *env) close() {
	_ = e.log.Sync()
}
