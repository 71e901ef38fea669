package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/dubbing-be/internal/auth"
	"github.com/cuongbtq/dubbing-be/internal/bootstrap"
	"github.com/cuongbtq/dubbing-be/internal/config"
	"github.com/cuongbtq/dubbing-be/shared/logger"
)

// operator is the identity dubctl acts as. Shell access to the config implies
// full rights.
var operator = &auth.Identity{
	UID:   "dubctl",
	Roles: auth.NewRoleSet(auth.RoleAdmin, auth.RoleEditor),
}

type commandContext struct {
	configFlag *string
	verbose    *bool
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{configFlag: configFlag, verbose: verbose}
}

func defaultConfigPath() string {
	if p := os.Getenv("DUBCTL_CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/api-service/config.yaml"
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	path := strings.TrimSpace(*c.configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// withApp builds the object graph for one command. Without needBroker no
// RabbitMQ connection is opened and jobs created by the command stay queued
// until the watchdog redispatches them.
func (c *commandContext) withApp(cmd *cobra.Command, needBroker bool, fn func(*bootstrap.App) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	level := "warn"
	if *c.verbose {
		level = cfg.Logging.Level
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), &logger.Config{Level: level, Format: "text"})

	var opts []bootstrap.Option
	if !needBroker {
		opts = append(opts, bootstrap.WithoutBroker())
	}

	app, err := bootstrap.Build(cmd.Context(), cfg, log.Logger, opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(app)
}
