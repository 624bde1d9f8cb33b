package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// ============================================================================
// helmctl - Command-line IPC Client
// ============================================================================
// This tool sends actions to the mediahelm daemon via its Unix socket.
//
// Usage:
//   helmctl play-pause music
//   helmctl next spotify
//   helmctl skip-forward vlc --seconds 30
//   helmctl volume 0.4
//   helmctl toggle quicktime
//   helmctl scan
//   helmctl watch
// ============================================================================

// Wire types duplicated from the daemon for a standalone binary.

type actionEnvelope struct {
	Type     string `json:"type"`
	Platform string `json:"platform,omitempty"`
	Data     any    `json:"data,omitempty"`
}

type ipcResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

var socketPath string

func send(env actionEnvelope) error {
	_, err := request(env)
	return err
}

// request sends one envelope and returns the response's data payload.
func request(env actionEnvelope) (json.RawMessage, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal action: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return nil, fmt.Errorf("send action: %w", err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp.Data, nil
}

// platformAction builds a subcommand that targets one platform.
func platformAction(use, short, actionType string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <platform>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(actionEnvelope{Type: actionType, Platform: args[0]})
		},
	}
}

// skipAction builds a seek subcommand with a --seconds flag.
func skipAction(use, short, actionType string) *cobra.Command {
	var seconds int
	cmd := &cobra.Command{
		Use:   use + " <platform>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(actionEnvelope{
				Type:     actionType,
				Platform: args[0],
				Data:     map[string]int{"seconds": seconds},
			})
		},
	}
	cmd.Flags().IntVar(&seconds, "seconds", 15, "seconds to seek")
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:           "helmctl",
		Short:         "Control a running mediahelm daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/mediahelm.sock", "daemon Unix socket path")

	root.AddCommand(
		platformAction("play-pause", "Toggle playback on a platform", "play_pause"),
		platformAction("next", "Skip to the next track", "next_track"),
		platformAction("prev", "Return to the previous track", "previous_track"),
		skipAction("skip-forward", "Seek forward within the current item", "skip_forward"),
		skipAction("skip-backward", "Seek backward within the current item", "skip_backward"),
		volumeCmd(),
		toggleCmd(),
		scanCmd(),
		platformsCmd(),
		watchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func volumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "volume <level>",
		Short: "Set the host output volume (0.0-1.0)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("parse level: %w", err)
			}
			if level < 0 || level > 1 {
				return fmt.Errorf("level must be between 0.0 and 1.0, got %g", level)
			}
			return send(actionEnvelope{Type: "set_volume", Data: map[string]float64{"level": level}})
		},
	}
}

func toggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <platform>",
		Short: "Enable or disable a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(actionEnvelope{Type: "toggle_platform", Data: map[string]string{"id": args[0]}})
		},
	}
}

func platformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List known platforms and their enabled state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := request(actionEnvelope{Type: "list_platforms"})
			if err != nil {
				return err
			}

			var infos []struct {
				ID      string `json:"id"`
				Name    string `json:"name"`
				Enabled bool   `json:"enabled"`
			}
			if err := json.Unmarshal(data, &infos); err != nil {
				return fmt.Errorf("decode platform list: %w", err)
			}

			for _, p := range infos {
				state := "disabled"
				if p.Enabled {
					state = "enabled"
				}
				fmt.Printf("%-12s %-18s %s\n", p.ID, p.Name, state)
			}
			return nil
		},
	}
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Start a discovery scan on the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(actionEnvelope{Type: "start_scan"})
		},
	}
}
