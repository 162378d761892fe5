package main

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/eventloop"
	"github.com/cuemby/portod/pkg/log"
	"github.com/cuemby/portod/pkg/metrics"
	"github.com/cuemby/portod/pkg/nodestore"
	"github.com/cuemby/portod/pkg/registry"
	"github.com/cuemby/portod/pkg/rpc"
	"github.com/cuemby/portod/pkg/volume"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Must run before anything else: a re-exec'd container-init
	// process never falls through to cobra, it execs into the real
	// container command and never returns.
	container.RunInit()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "portod",
	Short: "portod - single-host Linux container supervisor",
	Long: `portod is a single-host container supervisor: one daemon, one
Unix socket, a container tree and a volume holder underneath it.

There is no cluster, no raft, no scheduler across machines — every
container and volume this daemon tracks lives on the host portod runs
on, per its client RPC core's session/access-control design.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"portod version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().String("config", "", "Optional YAML config file; flags explicitly set on the command line take precedence")
	rootCmd.Flags().String("socket-path", "/run/portod.sock", "Unix socket the client RPC core listens on")
	rootCmd.Flags().Int("max-frame-bytes", 16<<20, "Largest accepted request/response frame, in bytes")
	rootCmd.Flags().String("db-path", "/var/lib/portod/containers.db", "Persistent node store (bbolt) path")
	rootCmd.Flags().String("volume-dir", "/var/lib/portod/volumes", "Base directory volumes are created under")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics / health HTTP listen address")
	rootCmd.Flags().Uint64("host-memory-bytes", 0, "Host memory available for guarantee accounting (0 disables the check)")
	rootCmd.Flags().Uint64("memory-reserve-bytes", 0, "Memory reserved for the host, subtracted from the guarantee cap")
	rootCmd.Flags().Duration("metrics-interval", 5*time.Second, "Gauge sampling interval for container/volume counts")
	rootCmd.Flags().Bool("enable-pprof", false, "Expose net/http/pprof endpoints on the metrics listener")

	cobra.OnInitialize(initLogging)
}

// flagOrFile returns the command-line value when the flag was
// explicitly set, else falls back to the config file's value, else
// the flag's own default.
func flagOrFile(cmd *cobra.Command, name, fileValue string) string {
	if cmd.Flags().Changed(name) || fileValue == "" {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return fileValue
}

func intFlagOrFile(cmd *cobra.Command, name string, fileValue int) int {
	if cmd.Flags().Changed(name) || fileValue == 0 {
		v, _ := cmd.Flags().GetInt(name)
		return v
	}
	return fileValue
}

func uint64FlagOrFile(cmd *cobra.Command, name string, fileValue uint64) uint64 {
	if cmd.Flags().Changed(name) || fileValue == 0 {
		v, _ := cmd.Flags().GetUint64(name)
		return v
	}
	return fileValue
}

func durationFlagOrFile(cmd *cobra.Command, name string, fileValue time.Duration) time.Duration {
	if cmd.Flags().Changed(name) || fileValue == 0 {
		v, _ := cmd.Flags().GetDuration(name)
		return v
	}
	return fileValue
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	fileCfg, err := loadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	socketPath := flagOrFile(cmd, "socket-path", fileCfg.SocketPath)
	maxFrame := intFlagOrFile(cmd, "max-frame-bytes", fileCfg.MaxFrameBytes)
	dbPath := flagOrFile(cmd, "db-path", fileCfg.DBPath)
	volumeDir := flagOrFile(cmd, "volume-dir", fileCfg.VolumeDir)
	metricsAddr := flagOrFile(cmd, "metrics-addr", fileCfg.MetricsAddr)
	hostMemory := uint64FlagOrFile(cmd, "host-memory-bytes", fileCfg.HostMemoryBytes)
	memReserve := uint64FlagOrFile(cmd, "memory-reserve-bytes", fileCfg.MemoryReserveBytes)
	metricsInterval := durationFlagOrFile(cmd, "metrics-interval", fileCfg.MetricsInterval)
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

	logger := log.WithComponent("portod")

	if err := os.MkdirAll(volumeDir, 0755); err != nil {
		return fmt.Errorf("create volume dir: %w", err)
	}

	store, err := nodestore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open node store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "ready")

	reg := registry.New()
	registry.RegisterStandard(reg)

	sup := container.NewForkExecSupervisor()
	tree := container.NewTree(reg, store, sup, nil, hostMemory, memReserve)
	metrics.RegisterComponent("tree", true, "ready")

	holder, err := volume.NewHolder(volumeDir, "plain",
		volume.PlainBackend{},
		volume.NativeBackend{},
		volume.OverlayBackend{},
		volume.LoopBackend{},
	)
	if err != nil {
		return fmt.Errorf("create volume holder: %w", err)
	}

	srv := &rpc.Server{Tree: tree, Volume: holder}

	loop, err := eventloop.New(socketPath, maxFrame, tree, srv.Dispatch)
	if err != nil {
		return fmt.Errorf("start event loop: %w", err)
	}
	defer loop.Close()

	// The event loop is the tree's EventQueue, but constructing it
	// requires the tree to already exist (Loop hands the tree to each
	// accepted session) — so the queue is wired in after the fact
	// rather than at NewTree time.
	tree.SetQueue(loop)
	metrics.RegisterComponent("eventloop", true, "ready")

	collector := metrics.NewCollector(tree, holder)
	collector.Start(metricsInterval)
	defer collector.Stop()

	metrics.SetVersion(Version)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if pprofEnabled {
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		}
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics and health endpoints listening")
	if pprofEnabled {
		logger.Info().Str("addr", metricsAddr).Msg("pprof endpoints enabled under /debug/pprof/")
	}

	logger.Info().Str("socket", socketPath).Str("db", dbPath).Str("volumes", volumeDir).Msg("portod starting")

	stopCh := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		if err := loop.Run(stopCh); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("event loop error")
	}

	close(stopCh)
	logger.Info().Msg("portod shutdown complete")
	return nil
}
