package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/hive/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8000
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			return RunServe(cmd.Context(), viper.GetViper(), host, port)
		},
	}
	cmd.Flags().String("host", DefaultHost, "Host to bind to")
	cmd.Flags().Int("port", DefaultPort, "Port to bind to")
	return cmd
}

// RunServe serves until SIGINT or SIGTERM.
func RunServe(ctx context.Context, v *viper.Viper, host string, port int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := NewClient(ctx, v)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Error while closing client")
		}
	}()

	return server.New(c).Run(ctx, fmt.Sprintf("%s:%d", host, port))
}
