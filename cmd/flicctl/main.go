// Command flicctl talks to a flicd directly: it inspects the daemon, scans
// for and pairs buttons and follows their events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/op/go-logging"
	"github.com/spf13/cobra"

	"openfms/flic/internal/client"
	"openfms/flic/internal/config"
	"openfms/flic/internal/logger"
)

var log = logging.MustGetLogger("ctl")

var (
	flagHost     string
	flagPort     int
	flagTimeout  time.Duration
	flagLogLevel string
)

func rootCmd() *cobra.Command {
	cfg := config.Load()
	cmd := &cobra.Command{
		Use:           "flicctl",
		Short:         "Control a flicd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup("", logger.ParseLevel(flagLogLevel))
		},
	}
	cmd.PersistentFlags().StringVar(&flagHost, "host", cfg.FlicdHost, "flicd host (FLICD_HOST)")
	cmd.PersistentFlags().IntVar(&flagPort, "port", cfg.FlicdPort, "flicd port (FLICD_PORT)")
	cmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 5*time.Second, "timeout for single requests")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "WARNING", "log level")

	cmd.AddCommand(infoCmd())
	cmd.AddCommand(scanCmd())
	cmd.AddCommand(wizardCmd())
	cmd.AddCommand(listenCmd())
	cmd.AddCommand(buttonInfoCmd())
	cmd.AddCommand(deleteCmd())
	cmd.AddCommand(forceDisconnectCmd())
	cmd.AddCommand(batteryCmd())
	cmd.AddCommand(tokenCmd())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}

// session is a connected client whose event loop runs in the background.
type session struct {
	*client.Client
	done chan error
}

func connect(ctx context.Context) (*session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, flagTimeout)
	defer cancel()
	c, err := client.Dial(dialCtx, flagHost, flagPort)
	if err != nil {
		return nil, err
	}
	log.Debugf("[Ctl] Connected to %s", c.RemoteAddr())

	s := &session{Client: c, done: make(chan error, 1)}
	go func() { s.done <- c.RunForever() }()
	return s, nil
}

// wait blocks until the session ends or ctx is done. Ending because of ctx
// is not an error.
func (s *session) wait(ctx context.Context) error {
	select {
	case err := <-s.done:
		return err
	case <-ctx.Done():
		s.Close()
		<-s.done
		return nil
	}
}

// flush waits until the daemon has processed every command sent so far.
func (s *session) flush(ctx context.Context) error {
	acked := make(chan struct{})
	if err := s.Ping(func() { close(acked) }); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, flagTimeout)
	defer cancel()
	select {
	case <-acked:
		return nil
	case err := <-s.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
