package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"retina/internal/config"
	"retina/internal/gateway"
	"retina/internal/mirror"
	"retina/internal/modelcache"
	"retina/internal/monitoring"
	"retina/internal/registry"
	"retina/internal/scheduler"
	"retina/internal/store"
	"retina/internal/version"
	"retina/internal/vision"
)

var (
	cfgFile string
	verbose bool
	port    int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "retinad",
	Short: "Retina - trainable image classification service",
	Long: `Retina is an image classification service built around per-category
nearest-neighbor models. Categories are trained incrementally from
labeled examples, cached in process, persisted in a durable store and
optionally mirrored to a remote blob endpoint.`,
	Version: version.Full(),
}

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the classifier HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Retina %s\n", version.Full())
		buildInfo := version.GetBuildInfo()

		if buildInfo.GitCommit != "unknown" {
			fmt.Printf("Git commit: %s\n", buildInfo.GitCommit)
		}
		if buildInfo.BuildDate != "unknown" {
			fmt.Printf("Build date: %s\n", buildInfo.BuildDate)
		}
		fmt.Printf("Go version: %s\n", buildInfo.GoVersion)
		return nil
	},
}

// syncCmd groups the one-shot mirror sync commands
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize categories with the remote mirror",
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull remote categories missing from the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		if svc.syncer == nil || svc.cfg.Mirror.ManifestURL == "" {
			return fmt.Errorf("mirror not configured (set mirror.manifest_url)")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result, err := svc.syncer.Pull(ctx, svc.cfg.Mirror.ManifestURL)
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		fmt.Printf("Pulled %d, skipped %d, failed %d\n", result.Pulled, result.Skipped, result.Failed)
		return nil
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push local categories to the remote mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		if svc.syncer == nil || svc.cfg.Mirror.RemoteRoot == "" {
			return fmt.Errorf("mirror not configured (set mirror.remote_root)")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result, err := svc.syncer.Push(ctx)
		if err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		fmt.Printf("Pushed %d, failed %d\n", result.Pushed, result.Failed)
		return nil
	},
}

// categoryCmd groups the category management commands
var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Manage trained categories",
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trained category descriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		descriptions, err := svc.registry.Store().ListDescriptions(ctx)
		if err != nil {
			return err
		}
		if len(descriptions) == 0 {
			fmt.Println("No trained categories")
			return nil
		}
		for _, d := range descriptions {
			fmt.Println(d)
		}
		return nil
	},
}

var categoryDeleteCmd = &cobra.Command{
	Use:   "delete <description>",
	Short: "Delete a trained category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := svc.registry.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %q\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	serverCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (overrides config)")

	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncPushCmd)

	categoryCmd.AddCommand(categoryListCmd)
	categoryCmd.AddCommand(categoryDeleteCmd)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(categoryCmd)

	// If no command is specified, default to server
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	}
}

// service bundles the wired components shared by the server and the
// one-shot CLI commands.
type service struct {
	cfg      *config.Config
	store    store.CategoryStore
	registry *registry.Registry
	syncer   *mirror.Syncer
	metrics  *monitoring.Metrics
}

func (s *service) Close() {
	if err := s.store.Close(); err != nil {
		log.Printf("WARNING: closing store: %v", err)
	}
}

// openService loads the configuration and wires the store, cache,
// embedder, registry and (when configured) the mirror syncer.
func openService() (*service, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	s, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	embedder, err := vision.New(cfg.Embedder.Provider, cfg.Embedder.Endpoint, cfg.Embedder.Dims)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	cache := modelcache.New(cfg.Cache.MaxEntries, cfg.Cache.MaxSize, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	metrics := monitoring.NewMetrics()
	reg := registry.New(s, cache, embedder, metrics)

	var syncer *mirror.Syncer
	if cfg.Mirror.ManifestURL != "" || cfg.Mirror.RemoteRoot != "" {
		client := mirror.NewClient(cfg.Mirror.AuthToken)
		syncer = mirror.NewSyncer(client, s, cfg.Mirror.RemoteRoot, metrics)
	}

	return &service{
		cfg:      cfg,
		store:    s,
		registry: reg,
		syncer:   syncer,
		metrics:  metrics,
	}, nil
}

func runServer() error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if port != 0 {
		svc.cfg.Port = port
	}

	// Schedule periodic syncs when configured.
	var sched *scheduler.Scheduler
	if svc.syncer != nil {
		sched = scheduler.New()
		if sc := svc.cfg.Mirror.PullSchedule; sc != "" && svc.cfg.Mirror.ManifestURL != "" {
			manifestURL := svc.cfg.Mirror.ManifestURL
			err := sched.AddJob("mirror-pull", sc, func(ctx context.Context) error {
				_, err := svc.syncer.Pull(ctx, manifestURL)
				return err
			})
			if err != nil {
				return err
			}
		}
		if sc := svc.cfg.Mirror.PushSchedule; sc != "" {
			err := sched.AddJob("mirror-push", sc, func(ctx context.Context) error {
				_, err := svc.syncer.Push(ctx)
				return err
			})
			if err != nil {
				return err
			}
		}
		if sched.JobCount() > 0 {
			sched.Start()
			defer sched.Stop()
		}
	}

	gw := gateway.New(svc.cfg, svc.registry, svc.syncer, svc.metrics)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	log.Printf("Starting Retina %s on port %d", version.Info(), svc.cfg.Port)
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Server stopped gracefully")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
