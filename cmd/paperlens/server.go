package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/paperlens/paperlens/internal/api"
	"github.com/paperlens/paperlens/internal/backend"
	"github.com/paperlens/paperlens/internal/client"
	"github.com/paperlens/paperlens/internal/config"
	"github.com/paperlens/paperlens/internal/history"
	"github.com/paperlens/paperlens/internal/maintenance"
	"github.com/paperlens/paperlens/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the paperlens proxy server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running paperlens server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show paperlens status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "paperlens.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newBackendClient(cfg config.Config) *backend.Client {
	return backend.NewClient(cfg.Backend.BaseURL,
		backend.WithTimeout(config.Duration("backend.timeout", cfg.Backend.Timeout, 0)),
		backend.WithAPIKey(cfg.Backend.APIKey),
		backend.WithRateLimit(cfg.Backend.RequestsPerSecond),
	)
}

func newScheduler(cfg config.Config, store *storage.Store) (*maintenance.Scheduler, error) {
	sched := maintenance.NewScheduler()
	if err := sched.Add(&maintenance.TranscriptCleanup{Store: store}, cfg.Maintenance.TranscriptCleanup); err != nil {
		return nil, fmt.Errorf("scheduling transcript cleanup: %w", err)
	}
	if err := sched.Add(&maintenance.JobCleanup{Store: store}, cfg.Maintenance.JobCleanup); err != nil {
		return nil, fmt.Errorf("scheduling job cleanup: %w", err)
	}
	return sched, nil
}

func runServer(ctx context.Context) error {
	fmt.Fprintf(errOut, "paperlens version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if err := client.New(proxyURL(cfg), healthClient).Health(ctx); err == nil {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("paperlens is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("paperlens is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()

	bc := newBackendClient(cfg)
	slog.Info("backend configured", "base_url", bc.BaseURL())

	handler := api.NewHandler(bc, api.Options{
		PDFCacheSize: cfg.PDF.CacheSize,
		PDFCacheTTL:  config.Duration("pdf.cache_ttl", cfg.PDF.CacheTTL, 10*time.Minute),
		Logger:       slog.Default(),
	})

	sched, err := newScheduler(cfg, store)
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(errOut, "paperlens listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(errOut, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("paperlens is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop paperlens (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to paperlens (PID %d)", pid)
	return nil
}

const statusJobLimit = 100

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = client.New(proxyURL(cfg), nil).Health(healthCtx)
	var se *client.StatusError
	switch {
	case err == nil:
		printStatus("Server", "running on port %d", cfg.Server.Port)
	case errors.As(err, &se):
		printStatus("Server", "error (HTTP %d)", se.StatusCode)
	default:
		printStatus("Server", "stopped")
	}
	printStatus("Backend", "%s", cfg.Backend.BaseURL)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		printWarning("could not open storage: %v", err)
		return nil
	}
	defer store.Close()

	var notes []history.NoteEntry
	if err := store.GetJSON(history.KeyNotesIndex, &notes); err == nil || errors.Is(err, storage.ErrNotFound) {
		printStatus("Notes", "%d", len(notes))
	}
	var chats []history.ChatEntry
	if err := store.GetJSON(history.KeyChatHistory, &chats); err == nil || errors.Is(err, storage.ErrNotFound) {
		printStatus("Chats", "%d", len(chats))
	}
	if active, err := store.ListJobs(statusJobLimit, true); err == nil {
		printStatus("Active jobs", "%s", countLabel(len(active), statusJobLimit))
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
