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
	"strings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server lets local clients (helmctl, scripts, a UI shell) send JSON
// action envelopes to the daemon.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "action_name", "platform": "id", "data": {...}}
//   - Server responds: {"status": "ok", "data": ...} or
//     {"status": "error", "error": "msg"}. Data is set only for queries.
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // error message if status == "error"
	Data   json.RawMessage `json:"data,omitempty"`  // query result, if any
}

// ActionHandler applies one decoded action. It runs on the connection's
// goroutine; a non-nil result is serialized into the response's data field,
// and any error is reported to the client.
type ActionHandler func(ctx context.Context, platform string, action Action) (any, error)

// runIPCServer starts the Unix domain socket server. It runs until ctx is
// canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, handle ActionHandler, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
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
			// Exit cleanly on shutdown/close.
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, handle, logger)
	}
}

// handleIPCConnection processes one IPC client connection line by line.
func handleIPCConnection(ctx context.Context, conn net.Conn, handle ActionHandler, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	respond := func(resp IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		platform, action, err := UnmarshalAction([]byte(line))
		if err != nil {
			respond(IPCResponse{Status: "error", Error: fmt.Sprintf("parse action: %v", err)})
			continue
		}

		result, err := handle(ctx, platform, action)
		if err != nil {
			logger.Warn("IPC action failed", "platform", platform, "error", err)
			respond(IPCResponse{Status: "error", Error: err.Error()})
			continue
		}

		resp := IPCResponse{Status: "ok"}
		if result != nil {
			data, err := json.Marshal(result)
			if err != nil {
				respond(IPCResponse{Status: "error", Error: fmt.Sprintf("encode result: %v", err)})
				continue
			}
			resp.Data = data
		}
		respond(resp)
	}

	logger.Debug("IPC connection closed")
}

// SendIPCAction sends one action envelope to the daemon socket and waits for
// the response. Used by helmctl and by tests.
func SendIPCAction(socketPath, platform string, action Action) error {
	_, err := QueryIPCAction(socketPath, platform, action)
	return err
}

// QueryIPCAction sends one action envelope and returns the response's data
// payload (nil for plain actions).
func QueryIPCAction(socketPath, platform string, action Action) (json.RawMessage, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := MarshalAction(platform, action)
	if err != nil {
		return nil, fmt.Errorf("marshal action: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return nil, fmt.Errorf("send action: %w", err)
	}

	decoder := json.NewDecoder(conn)
	var resp IPCResponse
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp.Data, nil
}
