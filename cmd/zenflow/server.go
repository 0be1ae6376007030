package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/zenflow/internal/api"
	"github.com/kalambet/zenflow/internal/config"
)

const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ZenFlow HTTP API and MCP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ZenFlow server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, Gemini, calendar and usage state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", true, "serve MCP over stdin/stdout alongside HTTP")
}

// pidFile records the PID of a foreground `zenflow serve` so `stop` can
// signal it.
type pidFile string

func pidFileFor(cfg config.Config) pidFile {
	return pidFile(filepath.Join(cfg.Storage.DataDir, "zenflow.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed PID file %s: %w", p, err)
	}
	return pid, nil
}

func (p pidFile) remove() {
	if err := os.Remove(string(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("server: removing PID file", "path", string(p), "error", err)
	}
}

func serverURL(cfg config.Config) string {
	return "http://" + listenAddr(cfg)
}

func listenAddr(cfg config.Config) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Server.Port))
}

// ensureNotRunning fails when something already answers /health on the
// configured port.
func ensureNotRunning(ctx context.Context, c *apiClient, cfg config.Config, pf pidFile) error {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if up, _ := c.healthy(probeCtx); !up {
		return nil
	}
	if pid, err := pf.read(); err == nil {
		printWarning("zenflow is already running (PID %d)", pid)
		return fmt.Errorf("server already running (PID %d)", pid)
	}
	printWarning("port %d is already serving zenflow", cfg.Server.Port)
	return fmt.Errorf("server already running on port %d", cfg.Server.Port)
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "zenflow version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	pf := pidFileFor(cfg)
	if err := ensureNotRunning(ctx, client, cfg, pf); err != nil {
		return err
	}
	if err := pf.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pf.remove()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()
	notice := a.calendarNotice()
	if notice != "" {
		slog.Warn("server: calendar sync disabled", "reason", notice)
	}
	if err := cfg.RequireGemini(); err != nil {
		slog.Warn("server: recommendations unavailable until the Gemini API key is set", "error", err)
	}

	router := chi.NewRouter()
	router.Mount("/", api.NewAppHandler(api.AppDeps{
		Pipeline:       a.pipeline,
		Sessions:       a.sessions,
		Images:         a.store,
		Gate:           a.gate,
		Feedback:       a.store,
		Calendar:       a.calendar,
		CalendarNotice: notice,
		Token:          client.token,
	}))
	srv := &http.Server{
		Addr:              listenAddr(cfg),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "zenflow listening on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if withMCP {
		stdio := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{
			Pipeline:       a.pipeline,
			Sessions:       a.sessions,
			Gate:           a.gate,
			Feedback:       a.store,
			Calendar:       a.calendar,
			CalendarNotice: notice,
		}))
		slog.Info("server: MCP started (stdio transport)")
		// A closed stdin ends MCP only; HTTP keeps serving.
		g.Go(func() error {
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("server: MCP stdio error", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pf := pidFileFor(cfg)
	pid, err := pf.read()
	if err != nil {
		printError("zenflow is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop zenflow (PID %d): %v", pid, err)
		pf.remove()
		return err
	}

	printSuccess("Sent stop signal to zenflow (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient(cfg)
	if err != nil {
		printError("%v", err)
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	up, probeErr := client.healthy(probeCtx)
	cancel()
	switch {
	case up:
		printStatus("Server", "running on port %d", cfg.Server.Port)
	case probeErr != nil:
		printStatus("Server", "unhealthy (%v)", probeErr)
	default:
		printStatus("Server", "stopped")
	}

	if cfg.RequireGemini() == nil {
		printStatus("Gemini", "key set (%s, %s)", cfg.Gemini.TextModel, cfg.Gemini.ImageModel)
	} else {
		printStatus("Gemini", "no API key")
	}
	if cfg.CalendarConfigured() {
		printStatus("Calendar", "Google Calendar")
	} else if cfg.Calendar.File != "" {
		printStatus("Calendar", "file %s", cfg.Calendar.File)
	} else {
		printStatus("Calendar", "not configured")
	}

	if up {
		u, err := client.usage(ctx)
		switch {
		case err != nil:
			slog.Debug("status: usage lookup failed", "error", err)
		case u.Subscribed:
			printStatus("Usage", "subscribed")
		default:
			printStatus("Usage", "%d of %d free recommendations used", u.Count, u.Limit)
		}
		if err == nil && u.HasSavedSession {
			printStatus("Session", "saved")
		} else if err == nil {
			printStatus("Session", "none")
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
