// Package cli implements the liveindex command: an interactive watch mode,
// an HTTP query server and a tail of the exported change stream.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	paths      []string
	logLevel   string
	logFormat  string
}

// NewRootCommand returns the liveindex command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "liveindex",
		Short: "Keep a word index in sync with a directory tree",
		Long: `liveindex polls one or more directory trees, detects created, modified
and deleted files by content digest, and keeps an in-memory word index of
them up to date while answering queries.`,
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringArrayVarP(&opts.paths, "path", "p", nil, "Directory to watch (repeatable)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(newWatchCommand(opts), newServeCommand(opts), newTailCommand(opts))
	return root
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// load reads the config, applies flag overrides and installs the logger.
// Positional args are extra watch roots.
func (o *rootOptions) load(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Watcher.Roots = append(cfg.Watcher.Roots, o.paths...)
	cfg.Watcher.Roots = append(cfg.Watcher.Roots, args...)
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	return cfg, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func requireRoots(cfg *config.Config) error {
	if len(cfg.Watcher.Roots) == 0 {
		return fmt.Errorf("no directories to watch: pass --path or list watcher.roots in the config")
	}
	return nil
}
