package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/intellirouter/chain-engine/pkg/chain"
)

// engineConfig holds the operational tunables read through viper (flag/env/
// file layering): a default step timeout and parallelism cap applied to
// chains that don't declare their own, plus logging knobs.
type engineConfig struct {
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
	DefaultTimeoutMS int64  `mapstructure:"default_timeout_ms"`
	DefaultMaxParallel int  `mapstructure:"default_max_parallel"`
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "chainctl",
		Short:         "Validate, run, and inspect IntelliRouter chain definitions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./chainctl.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "console", "log format: console, json")
	cmd.PersistentFlags().Int64("default-timeout-ms", 0, "default step timeout in milliseconds (0 = none)")
	cmd.PersistentFlags().Int("default-max-parallel", 0, "default max parallel steps (0 = unbounded)")

	_ = v.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log_format", cmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("default_timeout_ms", cmd.PersistentFlags().Lookup("default-timeout-ms"))
	_ = v.BindPFlag("default_max_parallel", cmd.PersistentFlags().Lookup("default-max-parallel"))

	cmd.AddCommand(newValidateCmd(v))
	cmd.AddCommand(newRunCmd(v))
	cmd.AddCommand(newInspectCmd(v))

	return cmd
}

func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("CHAINCTL")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("chainctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return err
		}
	}

	cfg := loadEngineConfig(v)
	configureLogging(cfg)
	return nil
}

func loadEngineConfig(v *viper.Viper) engineConfig {
	return engineConfig{
		LogLevel:           v.GetString("log_level"),
		LogFormat:          v.GetString("log_format"),
		DefaultTimeoutMS:   v.GetInt64("default_timeout_ms"),
		DefaultMaxParallel: v.GetInt("default_max_parallel"),
	}
}

func configureLogging(cfg engineConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "json" {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	chain.SetLogger(logger)
	chain.SetLevel(level)
}
