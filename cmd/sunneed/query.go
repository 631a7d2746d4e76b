package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunneed/sunneed/internal/infrastructure/config"
	"github.com/sunneed/sunneed/internal/listener"
)

const queryTimeout = 5 * time.Second

func newQueryCmd(configPath *string) *cobra.Command {
	var (
		socket   string
		encoding string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Ask the running daemon for the current provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if socket == "" {
				socket = querySocket(*configPath)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			resp, err := listener.Query(ctx, socket, listener.Encoding(encoding))
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if resp.Status == listener.StatusError {
				return fmt.Errorf("daemon rejected request: %s", resp.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "listener socket (default from configuration)")
	cmd.Flags().StringVar(&encoding, "encoding", string(listener.EncodingJSON), "wire encoding: json or msgpack")
	return cmd
}

// querySocket reads the socket path from the configuration when one can be
// loaded, falling back to the built-in default.
func querySocket(configPath string) string {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return config.DefaultSocketPath
	}
	return cfg.Listener.SocketPath
}
