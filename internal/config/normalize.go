package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	c.TempDir = strings.TrimSpace(c.TempDir)
	if c.TempDir, err = expandPath(c.TempDir); err != nil {
		return fmt.Errorf("temp_dir: %w", err)
	}
	c.normalizeLogging()
	c.normalizeWorker()
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeWorker() {
	var cmd []string
	for _, arg := range c.Worker.Command {
		if arg = strings.TrimSpace(arg); arg != "" {
			cmd = append(cmd, arg)
		}
	}
	c.Worker.Command = cmd
	if c.Worker.TimeoutSeconds == 0 {
		c.Worker.TimeoutSeconds = defaultWorkerTimeout
	}
}
