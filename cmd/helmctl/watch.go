package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// watchCmd subscribes to the daemon's state WebSocket and prints each frame.
func watchCmd() *cobra.Command {
	var (
		wsURL string
		raw   bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the daemon's state stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
			conn, _, err := d.Dial(wsURL, nil)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", wsURL, err)
			}
			defer conn.Close()

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigc
				conn.Close()
			}()

			fmt.Fprintln(os.Stderr, "connected (press Ctrl+C to exit)")
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return nil
				}
				if raw {
					fmt.Println(string(msg))
					continue
				}
				printFrame(msg)
			}
		},
	}

	cmd.Flags().StringVar(&wsURL, "url", "ws://127.0.0.1:8137/state", "daemon state WebSocket URL")
	cmd.Flags().BoolVar(&raw, "raw", false, "print raw JSON frames")
	return cmd
}

// Frame shapes duplicated from the daemon for a standalone binary.

type stateFrame struct {
	Type string        `json:"type"`
	Ts   time.Time     `json:"ts"`
	Data stateSnapshot `json:"data"`
}

type stateSnapshot struct {
	Platforms []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Title     string `json:"title"`
		Subtitle  string `json:"subtitle"`
		IsPlaying *bool  `json:"is_playing"`
		Error     string `json:"error"`
		Predicted bool   `json:"predicted"`
	} `json:"platforms"`
	VolumeLevel float64 `json:"volume_level"`
	VolumeKnown bool    `json:"volume_known"`
}

func printFrame(msg []byte) {
	var f stateFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		fmt.Println(string(msg))
		return
	}

	fmt.Printf("[%s] %s\n", f.Ts.Format("15:04:05"), f.Type)
	for _, p := range f.Data.Platforms {
		mark := " "
		switch {
		case p.Error != "":
			mark = "!"
		case p.IsPlaying != nil && *p.IsPlaying:
			mark = ">"
		}
		line := p.Title
		if p.Subtitle != "" {
			line += " - " + p.Subtitle
		}
		if p.Predicted {
			line += " (predicted)"
		}
		if p.Error != "" {
			line += " [" + p.Error + "]"
		}
		fmt.Printf("  %s %-10s %s\n", mark, p.Name, line)
	}
	if f.Data.VolumeKnown {
		fmt.Printf("    volume: %.0f%%\n", f.Data.VolumeLevel*100)
	}
}
