// Command camcored is the core's process entrypoint (SPEC_FULL §9): one
// spf13/cobra root command with serve/migrate/config subcommands layered
// over spf13/viper configuration, grounded on the pack's breeze-agent
// cobra root-plus-subcommand shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/camdeck/core/internal/camlock"
	"github.com/camdeck/core/internal/config"
	"github.com/camdeck/core/internal/encoder"
	"github.com/camdeck/core/internal/eventbus"
	"github.com/camdeck/core/internal/logging"
	"github.com/camdeck/core/internal/mediaserver"
	"github.com/camdeck/core/internal/metrics"
	"github.com/camdeck/core/internal/platform/paths"
	"github.com/camdeck/core/internal/recording"
	"github.com/camdeck/core/internal/rpc"
	"github.com/camdeck/core/internal/schedule"
	"github.com/camdeck/core/internal/store"
	"github.com/camdeck/core/internal/stream"
)

// shutdownBudget bounds graceful teardown of the HTTP listener and every
// in-flight component (SPEC_FULL §5: "process-wide shutdown with 5 s
// global budget then force-kill").
const shutdownBudget = 5 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:   "camcored",
	Short: "Camera fleet media and control daemon",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the media/control daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(configPath)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending metadata-store migrations and exit",
	Long: `Migrations are forward-only and idempotent; camcored serve applies
them automatically on startup. This subcommand exists to run them without
starting the daemon, e.g. ahead of a scripted upgrade.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(configPath)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config/default.yaml (default: $CAMDECK_DATA_ROOT/config/default.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(configPath string) error {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := paths.EnsureDataDirs(cfg.DataRoot); err != nil {
		return fmt.Errorf("ensure data dirs: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.DataRoot, "db.sqlite"), nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.DB.Close()
	fmt.Println("migrations applied")
	return nil
}

func serve(configPath string) error {
	cfg, loader, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.Must(cfg.LogDevelopment)
	defer log.Sync()

	if err := paths.EnsureDataDirs(cfg.DataRoot); err != nil {
		return fmt.Errorf("ensure data dirs: %w", err)
	}
	dirs := paths.Subdirs(cfg.DataRoot)

	st, err := store.Open(filepath.Join(cfg.DataRoot, "db.sqlite"), log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.DB.Close()

	sel, err := encoder.NewSelector(cfg.TranscoderPath, log)
	if err != nil {
		return fmt.Errorf("build encoder selector: %w", err)
	}

	policy := validatedPolicy(cfg.EncoderPolicy, log)
	bus := eventbus.New(cfg.RedisAddr, log)
	defer bus.Close()

	locks := &camlock.Set{}
	streaming := stream.New(st, bus, sel, locks, cfg.TranscoderPath, dirs["hls"], cfg.MediaPort, policy, cfg.SOAPTimeout, cfg.HLSPollTimeout, log)
	rec := recording.New(st, bus, sel, locks, cfg.TranscoderPath, dirs["recordings"], dirs["thumbnails"], dirs["tmp"], policy, log)

	sched, err := schedule.New(st, rec, cfg.ScheduleTZ, cfg.SOAPTimeout, log)
	if err != nil {
		return fmt.Errorf("build schedule engine: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start schedule engine: %w", err)
	}
	defer sched.Stop()

	facade := rpc.New(st, streaming, rec, sched, sel, bus, cfg.MediaPort, cfg.DataRoot, policy, 23, cfg.SOAPTimeout, log)

	loader.Watch(func(next *config.Config) {
		nextPolicy := validatedPolicy(next.EncoderPolicy, log)
		sel.Invalidate()
		streaming.SetPolicy(nextPolicy)
		rec.SetPolicy(nextPolicy)
		log.Info("config: reloaded, encoder policy applied", zap.String("policy", string(nextPolicy)))
	})

	eventsCh, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	hub := rpc.NewHub(log)
	go hub.Run(eventsCh)

	rpcServer := rpc.NewServer(facade, hub, log)
	media := mediaserver.New(dirs["hls"], dirs["recordings"], dirs["thumbnails"], cfg.MediaPort, log)

	collector := metrics.NewCollector(streaming, rec)
	go collector.Start(ctx)

	mediaRouter := media.Router()
	apiRouter := rpcServer.Router()

	mux := http.NewServeMux()
	mux.Handle("/hls/", mediaRouter)
	mux.Handle("/recordings/", mediaRouter)
	mux.Handle("/thumbnails/", mediaRouter)
	mux.Handle("/rpc/", apiRouter)
	mux.Handle("/ws", apiRouter)
	mux.Handle("/metrics", collector.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.MediaPort)
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("camcored: listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("camcored: http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("camcored: shutdown requested")

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		log.Warn("camcored: forced listener shutdown", zap.Error(err))
	}

	// Stop every live session and recording job concurrently; each child
	// gets procsup's graceful stop, then a forced kill after its grace.
	var wg sync.WaitGroup
	for _, id := range streaming.StreamingCameras() {
		wg.Add(1)
		go func(id int64) { defer wg.Done(); _ = streaming.Stop(shutCtx, id) }(id)
	}
	for _, id := range rec.RecordingCameras() {
		wg.Add(1)
		go func(id int64) { defer wg.Done(); _ = rec.Stop(shutCtx, id) }(id)
	}
	wg.Wait()
	return nil
}

// validatedPolicy falls back to PolicyAuto and logs a warning when the
// configured value is not one of the three recognized policies, rather
// than letting an invalid config string flow into the encoder selector.
func validatedPolicy(raw string, log *zap.Logger) encoder.Policy {
	p := encoder.Policy(raw)
	switch p {
	case encoder.PolicyAuto, encoder.PolicyGPUOnly, encoder.PolicyCPUOnly:
		return p
	default:
		log.Warn("config: unknown encoder_policy, defaulting to auto", zap.String("value", raw))
		return encoder.PolicyAuto
	}
}
