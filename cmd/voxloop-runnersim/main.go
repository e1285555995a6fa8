// voxloop-runnersim serves the simulated speech backend over the
// runner websocket protocol, so voxloop serve can be exercised
// end-to-end without a GPU runner.
//
// Usage:
//
//	voxloop-runnersim --listen :8998
//	voxloop serve --runner ws://127.0.0.1:8998
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxloop/voxloop/pkg/runner"
	"github.com/voxloop/voxloop/pkg/simspeech"
)

func main() {
	listen := flag.String("listen", ":8998", "websocket listen address")
	rate := flag.Int("rate", 24000, "model sample rate in Hz")
	frameRate := flag.Float64("frame-rate", 12.5, "model frame rate in Hz")
	codebooks := flag.Int("codebooks", 8, "token codes per frame")
	seed := flag.Int64("seed", 1, "script seed")
	stepErrEvery := flag.Int("step-err-every", 0, "inject a step failure every N steps, 0 disables")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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

	b := simspeech.NewBackend(simspeech.Config{
		SampleRate:   *rate,
		FrameRate:    *frameRate,
		Codebooks:    *codebooks,
		Seed:         *seed,
		StepErrEvery: *stepErrEvery,
	})

	logger.Info("runnersim listening", "addr", *listen,
		"rate", *rate, "frame_rate", *frameRate, "seed", *seed)

	err := runner.ListenAndServe(ctx, *listen, runner.Backend{
		CodecIn:   b.CodecIn,
		CodecOut:  b.CodecOut,
		Model:     b.Model,
		Codebooks: *codebooks,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
