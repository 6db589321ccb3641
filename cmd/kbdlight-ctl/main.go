package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// kbdlight-ctl - Command-line IPC client for kbdlightd
// ============================================================================
//
// Usage:
//   kbdlight-ctl activity     report activity (lights the keyboard)
//   kbdlight-ctl status       print the daemon's current state
//
// Options:
//   --socket PATH   Unix domain socket path (default: /tmp/kbdlightd.sock)
// ============================================================================

// Wire types (duplicated from the daemon for a standalone binary)
type ipcRequest struct {
	Type string `json:"type"`
}

type ipcState struct {
	Target         int       `json:"target"`
	Hardware       int       `json:"hardware"`
	HardwareKnown  bool      `json:"hardware_known"`
	LastActivity   time.Time `json:"last_activity"`
	IdleMS         int64     `json:"idle_ms"`
	FullBrightness int       `json:"full_brightness"`
	TimeoutSec     int       `json:"timeout_sec"`
	Dim            bool      `json:"dim"`
	Lazy           bool      `json:"lazy"`
}

type ipcResponse struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	State  *ipcState `json:"state,omitempty"`
}

const defaultSocket = "/tmp/kbdlightd.sock"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		socketPath string
		asJSON     bool
	)

	root := &cobra.Command{
		Use:           "kbdlight-ctl",
		Short:         "Control kbdlightd via IPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket, "kbdlightd IPC socket")

	activity := &cobra.Command{
		Use:   "activity",
		Short: "Report user activity (turns the backlight on)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := send(socketPath, "activity"); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the daemon's current state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := send(socketPath, "status")
			if err != nil {
				return err
			}
			if resp.State == nil {
				return fmt.Errorf("daemon returned no state")
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp.State)
			}
			printState(cmd.OutOrStdout(), *resp.State)
			return nil
		},
	}
	status.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")

	root.AddCommand(activity, status)
	return root
}

func send(socketPath, reqType string) (ipcResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := json.Marshal(ipcRequest{Type: reqType})
	if err != nil {
		return ipcResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return ipcResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func printState(w io.Writer, s ipcState) {
	hw := "unknown"
	if s.HardwareKnown {
		hw = fmt.Sprint(s.Hardware)
	}
	fmt.Fprintf(w, "target:     %d (full %d)\n", s.Target, s.FullBrightness)
	fmt.Fprintf(w, "hardware:   %s\n", hw)
	fmt.Fprintf(w, "idle:       %s of %ds\n", (time.Duration(s.IdleMS) * time.Millisecond).Round(100*time.Millisecond), s.TimeoutSec)
	fmt.Fprintf(w, "dim:        %t\n", s.Dim)
	fmt.Fprintf(w, "lazy:       %t\n", s.Lazy)
}
