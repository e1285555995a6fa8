package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voxloop/voxloop/cmd/voxloop/internal/config"
	"github.com/voxloop/voxloop/pkg/duplex"
	"github.com/voxloop/voxloop/pkg/engine"
	"github.com/voxloop/voxloop/pkg/gateway"
	"github.com/voxloop/voxloop/pkg/kv"
	"github.com/voxloop/voxloop/pkg/runner"
	"github.com/voxloop/voxloop/pkg/simspeech"
	"github.com/voxloop/voxloop/pkg/transcript"
	"github.com/voxloop/voxloop/pkg/voices"
)

var (
	flagListen string
	flagRunner string
	flagSim    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the voxloop session server",
	Long: `Run the voxloop session server.

The server admits one full-duplex voice session at a time, backed by a
streaming speech model. The model runs either in a separate runner
process reached over websocket, or as the in-process simulated backend
when --sim is set.

Clients connect over:
  /ws               websocket sessions (opus up, wav batches + tokens down)
  /v1/webrtc/offer  browser WebRTC sessions

Examples:
  voxloop serve --sim
  voxloop serve --runner ws://127.0.0.1:8998 --listen :8000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "bind address (overrides config)")
	serveCmd.Flags().StringVar(&flagRunner, "runner", "", "model runner websocket URL (overrides config)")
	serveCmd.Flags().BoolVar(&flagSim, "sim", false, "use the in-process simulated backend")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagRunner != "" {
		cfg.Runner.URL = flagRunner
	}
	if flagSim {
		cfg.Runner.Sim = true
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutting down...")
		cancel()
	}()

	var (
		model    duplex.Model
		codecIn  duplex.Codec
		codecOut duplex.Codec
	)
	if cfg.Runner.Sim {
		logger.Info("Using simulated speech backend")
		b := simspeech.NewBackend(simspeech.Config{})
		model, codecIn, codecOut = b.Model, b.CodecIn, b.CodecOut
	} else {
		logger.Info("Dialing model runner", "url", cfg.Runner.URL)
		client, err := runner.Dial(ctx, cfg.Runner.URL, logger)
		if err != nil {
			return fmt.Errorf("dial runner: %w", err)
		}
		defer client.Close()
		model, codecIn, codecOut = client.Model(), client.CodecIn(), client.CodecOut()
	}

	if err := os.MkdirAll(cfg.Voices.Dir, 0o755); err != nil {
		return fmt.Errorf("create voices dir: %w", err)
	}
	catalog := voices.NewCatalog(cfg.Voices.Dir, logger)

	var store kv.Store
	if cfg.Store.InMemory {
		store = kv.NewMemory(nil)
	} else {
		b, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.Store.Dir})
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		store = b
	}
	defer store.Close()

	transcripts := transcript.NewStore(store)
	recorder := transcript.NewRecorder(transcripts, logger)
	defer recorder.Close()

	eng, err := engine.New(engine.Config{
		Model:        model,
		CodecIn:      codecIn,
		CodecOut:     codecOut,
		Catalog:      catalog,
		Observer:     recorder,
		Logger:       logger,
		ReadyTimeout: cfg.Session.ReadyTimeout.Duration(),
	})
	if err != nil {
		return err
	}

	go func() {
		if err := eng.Initialize(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Engine initialization failed", "error", err)
		}
	}()

	gw, err := gateway.NewServer(gateway.Config{
		Engine:        eng,
		Catalog:       catalog,
		Transcripts:   transcripts,
		Logger:        logger,
		DefaultPrompt: cfg.Session.Prompt,
	})
	if err != nil {
		return err
	}

	logger.Info("voxloop listening", "addr", cfg.Listen)
	return gw.Run(ctx, cfg.Listen)
}

// newLogger builds the serve logger from the log config. Verbose mode
// forces debug level.
func newLogger(cfg config.Log) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}
	if IsVerbose() {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: must be text or json", cfg.Format)
	}
}
