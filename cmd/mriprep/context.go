package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mriprep/internal/config"
	"mriprep/internal/ledger"
	"mriprep/internal/logging"
	"mriprep/internal/pipeline"
	"mriprep/internal/services"
)

type commandContext struct {
	configFlag *string
	levelFlag  *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag, levelFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		levelFlag:  levelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "load", "", err)
			return
		}
		if c.levelFlag != nil {
			if level := strings.TrimSpace(*c.levelFlag); level != "" {
				cfg.Logging.Level = strings.ToLower(level)
			}
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

// logger writes console records to stderr so command output on stdout stays
// machine readable, and mirrors everything to the shared JSON log.
func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	opts := logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
	}
	if cfg.Paths.LogDir != "" {
		opts.FilePath = filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
	}
	return logging.New(opts)
}

// withOrchestrator builds the orchestrator with the run ledger attached and
// closes the ledger afterwards.
func (c *commandContext) withOrchestrator(fn func(*pipeline.Orchestrator) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg.Paths.LedgerPath)
	if err != nil {
		return fmt.Errorf("open run ledger: %w", err)
	}
	defer store.Close()

	orch, err := pipeline.New(cfg, logger, pipeline.WithLedger(store))
	if err != nil {
		return err
	}
	return fn(orch)
}

func (c *commandContext) withLedger(fn func(*ledger.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg.Paths.LedgerPath)
	if err != nil {
		return fmt.Errorf("open run ledger: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// skipConfigLoad marks commands that must work before a config file exists.
const skipConfigLoad = "skipConfigLoad"

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigLoad] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
