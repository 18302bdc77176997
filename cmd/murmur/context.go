package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"murmur/internal/config"
	"murmur/internal/lease"
	"murmur/internal/logging"
	"murmur/internal/orchestrator"
	"murmur/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// withStore opens the queue database for the duration of one command.
func (c *commandContext) withStore(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// withOrchestrator additionally wires leases, logging, and the pipeline.
func (c *commandContext) withOrchestrator(fn func(*config.Config, *queue.Store, *orchestrator.Orchestrator) error) error {
	return c.withStore(func(cfg *config.Config, store *queue.Store) error {
		leases, err := lease.FromConfig(cfg, store)
		if err != nil {
			return err
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			logger = slog.Default()
		}
		orch := orchestrator.New(cfg, store, leases, logger)
		return fn(cfg, store, orch)
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
