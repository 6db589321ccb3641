package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Lets local tools report activity the input devices cannot see (a mouse on
// another seat, a presentation remote, a script) and query the daemon state.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "activity"} or {"type": "status"}
//   - Server responds: {"status": "ok", "state": {...}?} or
//     {"status": "error", "error": "msg"}
// ============================================================================

const (
	ipcRequestActivity = "activity"
	ipcRequestStatus   = "status"
)

// IPCRequest is one line sent by a client.
type IPCRequest struct {
	Type string `json:"type"`
}

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string        `json:"status"`          // "ok" or "error"
	Error  string        `json:"error,omitempty"` // error message if status == "error"
	State  *statePayload `json:"state,omitempty"` // present for status requests
}

func parseIPCRequest(line []byte) (IPCRequest, error) {
	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return IPCRequest{}, fmt.Errorf("unmarshal request: %w", err)
	}
	switch req.Type {
	case ipcRequestActivity, ipcRequestStatus:
		return req, nil
	default:
		return IPCRequest{}, fmt.Errorf("unknown request type: %q", req.Type)
	}
}

// listenIPC replaces any stale socket file and makes the socket reachable by
// unprivileged tools.
func listenIPC(socketPath string) (net.Listener, error) {
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0666); err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return listener, nil
}

// serveIPC accepts connections on listener until ctx is canceled, then
// removes the socket file.
func serveIPC(ctx context.Context, listener net.Listener, socketPath string, agg *ActivityAggregator, board *StatusBoard, logger *slog.Logger) error {
	defer listener.Close()
	defer os.Remove(socketPath)

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(conn, agg, board, logger)
	}
}

// handleIPCConnection serves requests on one connection until the client
// hangs up.
func handleIPCConnection(conn net.Conn, agg *ActivityAggregator, board *StatusBoard, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		if err := encoder.Encode(handleIPCRequest(line, agg, board)); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
}

func handleIPCRequest(line []byte, agg *ActivityAggregator, board *StatusBoard) IPCResponse {
	req, err := parseIPCRequest(line)
	if err != nil {
		return IPCResponse{Status: "error", Error: err.Error()}
	}

	switch req.Type {
	case ipcRequestActivity:
		agg.Signal()
		return IPCResponse{Status: "ok"}

	default: // status
		snap, ok := board.Get()
		if !ok {
			return IPCResponse{Status: "error", Error: "no state published yet"}
		}
		p := snap.payload()
		return IPCResponse{Status: "ok", State: &p}
	}
}
