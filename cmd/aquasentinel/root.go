package main

import (
	"github.com/spf13/cobra"

	"github.com/aquasentinel/aquasentinel/internal/conf"
	"github.com/aquasentinel/aquasentinel/internal/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "aquasentinel",
		Short: "Water-quality alerting for aquaculture farms",
		Long: `aquasentinel evaluates sensor readings against per-tenant alert rules,
scores the risk of every match and escalates the resulting incidents
through the configured notification channels.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(
		newServeCmd(opts),
		newEvaluateCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the settings and builds the process logger.
func (o *rootOptions) load() (*conf.Settings, logger.Logger, error) {
	settings, err := conf.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		settings.Log.Level = o.logLevel
	}
	log, err := logger.New(logger.Config{
		Level:   logger.LogLevel(settings.Log.Level),
		Format:  settings.Log.Format,
		Service: "aquasentinel",
	})
	if err != nil {
		return nil, nil, err
	}
	return settings, log, nil
}
