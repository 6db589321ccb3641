package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// ============================================================================
// kbdlight-watch - follow kbdlightd's state WebSocket
// ============================================================================
// Connects to the daemon's /ws endpoint (enabled with --state-listen) and
// prints one line per event until interrupted.
// ============================================================================

type frame struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type stateData struct {
	Target         int   `json:"target"`
	Hardware       int   `json:"hardware"`
	HardwareKnown  bool  `json:"hardware_known"`
	IdleMS         int64 `json:"idle_ms"`
	FullBrightness int   `json:"full_brightness"`
	TimeoutSec     int   `json:"timeout_sec"`
	Dim            bool  `json:"dim"`
	Lazy           bool  `json:"lazy"`
}

type brightnessChanged struct {
	Level    int `json:"level"`
	Previous int `json:"previous"`
}

type hardwareDrift struct {
	Actual int `json:"actual"`
	Cached int `json:"cached"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var wsURL string

	cmd := &cobra.Command{
		Use:           "kbdlight-watch",
		Short:         "Print kbdlightd state events",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := url.Parse(wsURL)
			if err != nil {
				return fmt.Errorf("invalid websocket URL: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, u.String(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&wsURL, "url", "ws://127.0.0.1:9120/ws", "kbdlightd state WebSocket URL")
	return cmd
}

func watch(ctx context.Context, wsURL string, out io.Writer) error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", wsURL)
	conn, _, err := d.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()
	log.Printf("connected (press Ctrl+C to exit)")

	// Guards writes; reads happen on one goroutine only.
	var writeMu sync.Mutex

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			fmt.Fprintln(out, formatFrame(msg))
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
		return nil

	case err := <-done:
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
			log.Printf("connection closed")
			return nil
		}
		return fmt.Errorf("read: %w", err)
	}
}

// formatFrame renders one WS message as a single human-readable line.
func formatFrame(msg []byte) string {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return "[TEXT] " + string(msg)
	}
	ts := f.Ts.Local().Format("15:04:05.000")

	switch f.Type {
	case "state_init":
		var s stateData
		if json.Unmarshal(f.Data, &s) == nil {
			hw := "unknown"
			if s.HardwareKnown {
				hw = fmt.Sprint(s.Hardware)
			}
			return fmt.Sprintf("%s [STATE] target=%d hardware=%s idle=%dms full=%d timeout=%ds dim=%t lazy=%t",
				ts, s.Target, hw, s.IdleMS, s.FullBrightness, s.TimeoutSec, s.Dim, s.Lazy)
		}
	case "brightness_changed":
		var b brightnessChanged
		if json.Unmarshal(f.Data, &b) == nil {
			return fmt.Sprintf("%s [BRIGHTNESS] %d -> %d", ts, b.Previous, b.Level)
		}
	case "hardware_drift":
		var h hardwareDrift
		if json.Unmarshal(f.Data, &h) == nil {
			return fmt.Sprintf("%s [DRIFT] hardware=%d cached=%d", ts, h.Actual, h.Cached)
		}
	}
	return fmt.Sprintf("%s [%s] %s", ts, f.Type, string(f.Data))
}
