package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/isopose/isopose/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API server",
	Long: `Loads the pose and policy models and serves the JSON API. When
server.static_addr is set, a bare static file host runs alongside it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg, logger, appOptions{metrics: true})
		if err != nil {
			return err
		}
		defer a.Close()

		logger.Info("inference device", "device", "cpu", "cpu", cpuid.CPU.BrandName,
			"cores", cpuid.CPU.PhysicalCores, "workers", cfg.Inference.Workers)

		api, err := server.NewHandler(ctx, a.svc, server.Options{
			BodyLimit:  cfg.Server.BodyLimit,
			CORS:       cfg.Server.CORS,
			StaticRoot: cfg.Server.StaticRoot,
			Metrics:    a.metrics,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.Run(ctx, cfg.Server.Addr, api, cfg.Server.ShutdownTimeout, logger)
		})
		if cfg.Server.StaticAddr != "" {
			g.Go(func() error {
				return server.Run(ctx, cfg.Server.StaticAddr, server.NewStatic(cfg.Server.StaticRoot, logger),
					cfg.Server.ShutdownTimeout, logger)
			})
		}
		return g.Wait()
	},
}

var staticCmd = &cobra.Command{
	Use:   "static",
	Short: "Serve static files only",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := cfg.Server.StaticAddr
		if addr == "" {
			addr = ":8000"
		}
		return server.Run(ctx, addr, server.NewStatic(cfg.Server.StaticRoot, logger), cfg.Server.ShutdownTimeout, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, staticCmd)

	f := serveCmd.Flags()
	f.String("addr", "", "API listen address")
	f.String("static-addr", "", "Static host listen address (disabled when empty)")
	f.String("static-root", "", "Directory served at /")
	f.String("pose-model", "", "Pose model ONNX file")
	f.String("policy-model", "", "Policy model ONNX file")
	f.Int("workers", 0, "CPU inference workers")
	configFlag(f, "addr", "server.addr")
	configFlag(f, "static-addr", "server.static_addr")
	configFlag(f, "static-root", "server.static_root")
	configFlag(f, "pose-model", "models.pose")
	configFlag(f, "policy-model", "models.policy")
	configFlag(f, "workers", "inference.workers")

	sf := staticCmd.Flags()
	sf.String("addr", "", "Listen address (default :8000 unless server.static_addr is set)")
	sf.String("root", "", "Directory to serve")
	configFlag(sf, "addr", "server.static_addr")
	configFlag(sf, "root", "server.static_root")
}
