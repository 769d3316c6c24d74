package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/strokeinsight/internal/api"
	"github.com/kalambet/strokeinsight/internal/archive"
	"github.com/kalambet/strokeinsight/internal/config"
	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/pipeline"
	"github.com/kalambet/strokeinsight/internal/scoring"
	"github.com/kalambet/strokeinsight/internal/session"
	"github.com/kalambet/strokeinsight/internal/storage"
)

const sessionPruneInterval = 10 * time.Minute

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the strokeinsight server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running strokeinsight server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show strokeinsight system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

// pidFile records the running server's process ID in the data dir.
type pidFile string

func pidFileFor(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "strokeinsight.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func (p pidFile) read() (int, error) {
	raw, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

func (p pidFile) remove() { os.Remove(string(p)) }

// probeHealth returns the status code of the local server's /health
// endpoint, or an error if nothing answers on port.
func probeHealth(port int) (int, error) {
	c := &http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// readLimits maps the upload settings onto the workbook reader's limits.
func readLimits(cfg config.Config) dataset.Limits {
	return dataset.Limits{
		MaxFileBytes:  int64(cfg.Upload.MaxBytes),
		MaxUnzipBytes: int64(cfg.Upload.MaxUnzipBytes),
		MaxXMLBytes:   int64(cfg.Upload.MaxXMLBytes),
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "strokeinsight version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.Log.Level))

	if cfg.Auth.Username == "" || cfg.Auth.UserID == "" {
		return fmt.Errorf("missing required config: login account. " +
			"Set auth.username and auth.user_id with `strokeinsight config set` " +
			"or STROKEINSIGHT_AUTH_USERNAME / STROKEINSIGHT_AUTH_USER_ID")
	}

	pid := pidFileFor(cfg.Storage.DataDir)
	if _, err := probeHealth(cfg.Server.Port); err == nil {
		if n, err := pid.read(); err == nil {
			printWarning("strokeinsight is already running (PID %d)", n)
			return fmt.Errorf("server already running (PID %d)", n)
		}
		printWarning("strokeinsight is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	sessions := session.NewManager(store, session.Credentials{
		Username: cfg.Auth.Username,
		UserID:   cfg.Auth.UserID,
		Role:     cfg.Auth.Role,
	}, config.Duration(cfg.Auth.SessionTTL))

	schema, err := dataset.LoadSchema(cfg.Scoring.SchemaPath)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}
	slog.Info("schema loaded", "columns", len(schema.Columns))

	intake, err := dataset.NewIntake(cfg.UploadDir())
	if err != nil {
		return err
	}
	janitor := dataset.NewJanitor(intake.Dir(), config.Duration(cfg.Upload.StaleAfter), 0)
	go janitor.Run(ctx)

	// Check scoring readiness. A missing runtime or artifact is not fatal;
	// predictions report ProcessError until it is installed.
	invoker := scoring.NewInvoker(scoring.Config{
		Runtimes:   cfg.Scoring.RuntimeNames(),
		ScriptPath: cfg.Script(),
		ModelPath:  cfg.Model(),
		Timeout:    config.Duration(cfg.Scoring.Timeout),
	})
	if !scoring.EnsureReady(ctx, invoker, os.Stderr) {
		printWarning("scoring is not ready; predictions will fail until it is installed")
	}

	var archiver pipeline.Archiver
	if cfg.Archive.Endpoint != "" {
		a, err := archive.New(archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			Bucket:    cfg.Archive.Bucket,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("creating archive client: %w", err)
		}
		if err := a.EnsureBucket(ctx); err != nil {
			slog.Warn("run archive unavailable", "endpoint", cfg.Archive.Endpoint, "error", err)
		}
		archiver = a
		slog.Info("archiving runs", "endpoint", cfg.Archive.Endpoint, "bucket", cfg.Archive.Bucket)
	}

	predictor := pipeline.NewPredictor(intake, schema, invoker, store, archiver).WithLimits(readLimits(cfg))

	go pruneSessions(ctx, sessions, sessionPruneInterval)

	handler := api.NewAppHandler(api.AppDeps{
		Predictor:      predictor,
		Runs:           store,
		Sessions:       sessions,
		Schema:         schema,
		MaxUploadBytes: int64(cfg.Upload.MaxBytes),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Predictor: predictor,
			Runs:      store,
			Username:  cfg.Auth.Username,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "strokeinsight listening on %s (uploads up to %s)\n", addr, humanize.IBytes(uint64(cfg.Upload.MaxBytes)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type sessionPruner interface {
	Prune()
}

func pruneSessions(ctx context.Context, p sessionPruner, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune()
		}
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pf := pidFileFor(cfg.Storage.DataDir)
	pid, err := pf.read()
	if err != nil {
		printError("strokeinsight is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop strokeinsight (PID %d): %v", pid, err)
		pf.remove()
		return err
	}

	printSuccess("Sent stop signal to strokeinsight (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	running := false
	switch code, err := probeHealth(cfg.Server.Port); {
	case err != nil:
		printStatus("Server", "stopped")
	case code == http.StatusOK:
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		printStatus("Server", "error (HTTP %d)", code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if runtime, err := scoring.Probe(ctx, cfg.Scoring.RuntimeNames()); err != nil {
		printStatus("Runtime", "not found (%s)", cfg.Scoring.Runtimes)
	} else {
		printStatus("Runtime", "%s", runtime)
	}
	printStatus("Script", "%s", artifactLabel(cfg.Script()))
	printStatus("Model", "%s", artifactLabel(cfg.Model()))
	printStatus("Timeout", "%s", cfg.Scoring.Timeout)
	printStatus("Max upload", "%s", humanize.IBytes(uint64(cfg.Upload.MaxBytes)))

	if cfg.Auth.Username == "" || cfg.Auth.UserID == "" {
		printStatus("Login account", "not configured")
	} else {
		printStatus("Login account", "%s (%s)", cfg.Auth.Username, cfg.Auth.Role)
	}
	if cfg.Archive.Endpoint != "" {
		printStatus("Archive", "%s/%s", cfg.Archive.Endpoint, cfg.Archive.Bucket)
	}

	// Show run count if the server is running and we hold a session.
	if running {
		if c, err := newAPIClient(); err == nil && c.token != "" {
			runs, err := c.listRuns(ctx)
			if err == nil {
				printStatus("Runs", "%d", len(runs))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func artifactLabel(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path + " (missing)"
	}
	return fmt.Sprintf("%s (%s)", path, humanize.IBytes(uint64(info.Size())))
}
