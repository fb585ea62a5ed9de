package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"inkstone/internal/config"
	"inkstone/internal/queue"
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
		cfg, _, _, err := config.Load(path)
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

func (c *commandContext) configPath() (string, bool, error) {
	var path string
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	_, resolved, exists, err := config.Load(path)
	if err != nil {
		return "", false, err
	}
	return resolved, exists, nil
}

// withQueueStore opens the queue database, runs fn, and closes it again.
func (c *commandContext) withQueueStore(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
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
