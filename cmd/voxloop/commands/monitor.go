package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/voxloop/voxloop/pkg/cli"
	"github.com/voxloop/voxloop/pkg/engine"
	"github.com/voxloop/voxloop/pkg/gateway"
	"github.com/voxloop/voxloop/pkg/transcript"
)

var flagInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live view of a running server",
	Long: `Live view of a running server.

Polls the server and redraws a terminal frame with the engine state,
the active session, and the transcript of what the model is saying.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&flagInterval, "interval", time.Second, "poll interval")
	rootCmd.AddCommand(monitorCmd)
}

type monitorView struct {
	base string

	status      string
	engineRows  []string
	sessionRows []string
	tokenRows   []string

	logWriter *cli.LogWriter
	styles    cli.Styles
}

func runMonitor(cmd *cobra.Command, args []string) error {
	base, err := serverBase()
	if err != nil {
		return err
	}

	// Route log output into the frame's log pane.
	logWriter := cli.NewLogWriter(100)
	slog.SetDefault(slog.New(slog.NewTextHandler(logWriter, nil)))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	view := &monitorView{
		base:      base,
		status:    "connecting",
		logWriter: logWriter,
		styles:    cli.NewStyles(cli.DefaultTheme),
	}

	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()
	for {
		view.poll(ctx)
		view.render()
		select {
		case <-ctx.Done():
			fmt.Print("\033[2J\033[H")
			return nil
		case <-ticker.C:
		}
	}
}

func (v *monitorView) poll(ctx context.Context) {
	var st engine.Status
	if err := apiGet(ctx, v.base, "/healthz", &st); err != nil {
		if ctx.Err() == nil {
			v.status = "unreachable"
			slog.Warn("health poll failed", "error", err)
		}
		return
	}

	switch {
	case !st.Ready:
		v.status = "initializing"
	case st.Active != nil:
		v.status = st.Active.State
	default:
		v.status = "idle"
	}

	v.engineRows = []string{
		fmt.Sprintf("ready:      %v", st.Ready),
		fmt.Sprintf("uptime:     %s", cli.FormatDuration(time.Since(st.StartedAt.Time()).Milliseconds())),
	}
	if st.Ready {
		v.engineRows = append(v.engineRows,
			fmt.Sprintf("model rate: %d Hz @ %.1f fps", st.SampleRate, st.FrameRate),
			fmt.Sprintf("frame size: %d samples", st.FrameSize),
		)
	}

	if st.Active == nil {
		v.sessionRows = []string{"(none)"}
		return
	}

	v.sessionRows = []string{
		fmt.Sprintf("id:      %s", st.Active.ID),
		fmt.Sprintf("voice:   %s", st.Active.Voice),
		fmt.Sprintf("state:   %s", st.Active.State),
		fmt.Sprintf("elapsed: %s", cli.FormatDuration(time.Since(st.Active.StartedAt.Time()).Milliseconds())),
	}
	if st.Active.CloseReason != "" {
		v.sessionRows = append(v.sessionRows, fmt.Sprintf("closing: %s", st.Active.CloseReason))
	}

	var detail gateway.SessionDetail
	path := "/v1/sessions/" + url.PathEscape(st.Active.ID)
	if err := apiGet(ctx, v.base, path, &detail); err != nil {
		if ctx.Err() == nil {
			slog.Warn("transcript poll failed", "session", st.Active.ID, "error", err)
		}
		return
	}
	v.tokenRows = tokenTail(detail.Events, 80)
}

func (v *monitorView) render() {
	frame := cli.Frame{
		Styles: v.styles,
		Title:  "VOXLOOP // MONITOR",
		Status: v.status,
		Sections: []cli.Section{
			{Label: "Engine", Content: func() []string { return v.engineRows }},
			{Label: "Session", Content: func() []string { return v.sessionRows }},
			{Label: "Transcript", Content: func() []string { return v.tokenRows }},
			{Label: "Log", Content: func() []string { return v.logWriter.Lines() }},
		},
		Help: "Ctrl+C=quit  |  " + v.base,
	}

	w, h := termSize()
	fmt.Print("\033[2J\033[H" + frame.Render(w, h))
}

// tokenTail joins the text events into display lines of at most width
// runes.
func tokenTail(events []transcript.Event, width int) []string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Kind == transcript.KindText {
			sb.WriteString(ev.Value)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return []string{"(silent so far)"}
	}

	var lines []string
	runes := []rune(text)
	for len(runes) > width {
		lines = append(lines, string(runes[:width]))
		runes = runes[width:]
	}
	return append(lines, string(runes))
}

func termSize() (int, int) {
	w, h, err := term.GetSize(os.Stdout.Fd())
	if err != nil || w <= 0 || h <= 0 {
		return 100, 30
	}
	return w, h
}
