package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/hotswap/internal/config"
	"github.com/dshills/hotswap/internal/engine"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	configPath  string
	watchDirs   []string
	pluginDir   string
	metricsAddr string
	once        bool
	verbose     bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load plugins and sources, then redefine units as files change",
		Example: `  hotswap run --config hotswap.toml
  hotswap run --watch ./src --plugins ./plugins --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.verbose, _ = cmd.Flags().GetBool("verbose")
			return runEngine(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to a TOML or YAML configuration file")
	f.StringArrayVarP(&opts.watchDirs, "watch", "w", nil, "Source directory to watch (repeatable)")
	f.StringVarP(&opts.pluginDir, "plugins", "p", "", "Directory holding Lua plugins")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&opts.once, "once", false, "Load everything, apply pending commands and exit")
	return cmd
}

// loadConfig builds the root configuration with command-line overrides on
// top of the file and environment layers.
func loadConfig(opts runOptions) (*config.Configuration, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.pluginDir != "" {
		cfg.Set(config.KeyPluginDir, opts.pluginDir)
	}
	if len(opts.watchDirs) > 0 {
		roots := append(cfg.StringSlice(config.KeyWatchRoots), opts.watchDirs...)
		cfg.Set(config.KeyWatchRoots, roots)
	}
	if opts.verbose {
		cfg.Set(config.KeyLogLevel, "debug")
	}
	return cfg, nil
}

func runEngine(cmd *cobra.Command, opts runOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var engineOpts []engine.Option
	if opts.once {
		engineOpts = append(engineOpts, engine.WithoutWatcher())
	}
	eng, err := engine.New(cfg, engineOpts...)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := eng.Shutdown(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: shutdown: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}

	if opts.once {
		n := eng.Scheduler().Flush(ctx)
		root := eng.Scopes().Root()
		fmt.Fprintf(cmd.OutOrStdout(), "%d units in scope %s, %d commands run\n",
			len(eng.Units().Names(root)), root.Name(), n)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	if opts.metricsAddr != "" {
		srv := newMetricsServer(opts.metricsAddr, eng)
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	return g.Wait()
}

func newMetricsServer(addr string, eng *engine.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(eng.Registry(), promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
