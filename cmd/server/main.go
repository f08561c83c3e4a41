package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muandane/special-stack/storefront/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "storefront",
		Short:         "Catalog cache and product image service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	root.PersistentFlags().Bool("in-memory", false, "use in-process cache and object stores instead of Redis and S3")

	root.AddCommand(serveCmd(), warmCmd(), maintainCmd())
	return root
}

// flagOrEnv prefers an explicitly set flag, then the environment, then def.
func flagOrEnv(cmd *cobra.Command, flag, env, def string) string {
	if f := cmd.Flag(flag); f != nil && f.Changed {
		return f.Value.String()
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return def
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// setup loads configuration and applies the persistent flags on top of it.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, bool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, false, err
	}
	cfg.Server.LogLevel = flagOrEnv(cmd, "log-level", "LOG_LEVEL", cfg.Server.LogLevel)
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	inMemory, err := cmd.Flags().GetBool("in-memory")
	if err != nil {
		return nil, nil, false, err
	}
	return cfg, logger, inMemory, nil
}
