package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/simp-lee/polish"
	"github.com/simp-lee/polish/internal/config"
	"github.com/simp-lee/polish/internal/logging"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
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
		var level string
		if c.logLevelFlag != nil {
			level = *c.logLevelFlag
		}
		logger, err := logging.NewFromConfig(cfg, level)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// codec returns the AZW3 codec for cfg. Without a configured command the
// polish binary re-executes itself as "polish worker".
func (c *commandContext) codec(cfg *config.Config) (polish.MobiCodec, error) {
	if len(cfg.Worker.Command) > 0 {
		return polish.WorkerCodec{Command: cfg.Worker.Command}, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate polish executable: %w", err)
	}
	return polish.WorkerCodec{Command: []string{self, "worker"}}, nil
}

// bookContext bounds ctx by the worker timeout.
func (c *commandContext) bookContext(ctx context.Context) (context.Context, context.CancelFunc) {
	cfg, err := c.ensureConfig()
	if err != nil || cfg.Worker.TimeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(cfg.Worker.TimeoutSeconds)*time.Second)
}

// openBook opens path with the configured options. The caller closes the
// container.
func (c *commandContext) openBook(ctx context.Context, path string) (*polish.Container, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	codec, err := c.codec(cfg)
	if err != nil {
		return nil, err
	}
	book, err := polish.OpenContext(ctx, path, polish.Options{
		TempDir:   cfg.TempDir,
		TweakMode: cfg.TweakMode,
		Logger:    c.logger,
		Codec:     codec,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if cfg.PrettyPrintOPF {
		book.SetPrettyPrint(book.OPFName(), true)
	}
	return book, nil
}

// editBook opens path, applies fn and commits the result to output, or
// back to path when output is empty.
func (c *commandContext) editBook(cmd *cobra.Command, path, output string, fn func(*polish.Container) error) error {
	ctx, cancel := c.bookContext(cmd.Context())
	defer cancel()

	book, err := c.openBook(ctx, path)
	if err != nil {
		return err
	}
	defer book.Close()

	if err := fn(book); err != nil {
		return err
	}
	if err := book.CommitContext(ctx, output, false); err != nil {
		return fmt.Errorf("commit %s: %w", path, err)
	}
	c.logger.Info("book saved", "path", firstNonEmpty(output, path))
	return nil
}

// withBook opens path read-only for the duration of fn.
func (c *commandContext) withBook(cmd *cobra.Command, path string, fn func(*polish.Container) error) error {
	ctx, cancel := c.bookContext(cmd.Context())
	defer cancel()

	book, err := c.openBook(ctx, path)
	if err != nil {
		return err
	}
	defer book.Close()
	return fn(book)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
