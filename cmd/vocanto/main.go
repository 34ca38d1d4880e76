// Command vocanto is an interactive voice conversation client: it streams the
// microphone to the Gemini Live API, plays the spoken replies, and shows the
// running transcript with any links the model mentions.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vocanto/vocanto/internal/config"
	"github.com/vocanto/vocanto/internal/engine"
	"github.com/vocanto/vocanto/internal/health"
	"github.com/vocanto/vocanto/internal/observe"
	"github.com/vocanto/vocanto/pkg/live"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// No config file is fine; everything has a default.
			cfg = &config.Config{}
		} else {
			fmt.Fprintf(os.Stderr, "vocanto: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	// The API key never lives in the config file.
	apiKey, err := config.APIKeyFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vocanto: %v\n", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Engine ────────────────────────────────────────────────────────────────
	instruction, err := cfg.Session.Instruction()
	if err != nil {
		slog.Error("failed to load system instruction", "err", err)
		return 1
	}

	eng, err := engine.New(engine.Config{
		APIKey: apiKey,
		Model:  cfg.Session.Model,
		Session: live.SessionConfig{
			Voice:               cfg.Session.Voice,
			SystemInstruction:   instruction,
			ResponseModalities:  cfg.Session.Modalities(),
			InputTranscription:  cfg.Session.InputTranscription,
			OutputTranscription: cfg.Session.OutputTranscriptionEnabled(),
		},
		ChunkSamples: cfg.Audio.ChunkSamples,
	})
	if err != nil {
		slog.Error("failed to create engine", "err", err)
		return 1
	}
	defer eng.Close()

	slog.Info("vocanto starting",
		"config", *configPath,
		"model", cfg.Session.Model,
		"voice", cfg.Session.Voice,
		"listen_addr", cfg.Server.ListenAddr,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(gctx)
	})

	// ── Health/metrics server (optional) ──────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		g.Go(func() error {
			return serveHTTP(gctx, cfg.Server.ListenAddr, eng)
		})
	}

	// ── Console ───────────────────────────────────────────────────────────────
	go printSnapshots(gctx, eng)
	go console(gctx, stop, eng)

	fmt.Println("vocanto ready — type 'help' for commands, Ctrl+C to quit")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// serveHTTP runs the health and metrics endpoint until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, eng *engine.Engine) error {
	h := health.New(
		health.Checker{Name: "session", Check: eng.Ready},
	)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// printSnapshots renders engine state changes to the terminal.
func printSnapshots(ctx context.Context, eng *engine.Engine) {
	var lastStatus engine.Status
	var lastTurn string

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-eng.Notify():
			if s.Status != lastStatus {
				lastStatus = s.Status
				if s.Err != nil {
					fmt.Printf("[session] %s: %v\n", s.Status, s.Err)
				} else {
					fmt.Printf("[session] %s\n", s.Status)
				}
			}
			if s.LastTurn != "" && s.LastTurn != lastTurn {
				lastTurn = s.LastTurn
				fmt.Printf("[model] %s\n", s.LastTurn)
				for _, link := range s.Links {
					fmt.Printf("  link: %s\n", link)
				}
			}
		}
	}
}

// console reads commands from stdin until EOF or quit.
func console(ctx context.Context, stop func(), eng *engine.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "start":
			if err := eng.StartListening(); err != nil {
				fmt.Printf("start failed: %v\n", err)
			}
		case "stop":
			eng.StopListening()
		case "end":
			eng.EndTurn()
		case "resume":
			eng.ResumeListening()
		case "send":
			if err := eng.Send(rest); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		case "attach":
			if rest == "" {
				fmt.Println("usage: attach <path>")
				continue
			}
			eng.AttachFile(rest)
			fmt.Printf("staged %d attachment(s)\n", eng.State().Pending)
		case "attachments":
			for i, att := range eng.Attachments() {
				fmt.Printf("  %d: %s (%s)\n", i, att.Name, att.MediaType)
			}
		case "remove":
			i, err := strconv.Atoi(rest)
			if err != nil {
				fmt.Println("usage: remove <index>")
				continue
			}
			eng.RemoveAttachment(i)
		case "clear":
			eng.ClearAttachments()
		case "reset":
			eng.Reset()
		case "status":
			s := eng.State()
			fmt.Printf("session=%s turn=%s pending=%d\n", s.Status, s.Turn, s.Pending)
			if s.Transcript != "" {
				fmt.Printf("speaking: %s\n", s.Transcript)
			}
			if s.UserTranscript != "" {
				fmt.Printf("heard: %s\n", s.UserTranscript)
			}
		case "help":
			fmt.Println("commands: start stop end resume send <text> attach <path> attachments remove <i> clear reset status quit")
		case "quit", "exit":
			stop()
			return
		default:
			fmt.Printf("unknown command %q — try 'help'\n", cmd)
		}
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
