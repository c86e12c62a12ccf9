// Command pointer is the client: it routes a query to the cloud backend or the local agent,
// reports connectivity and manages backend memory.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github/itish2003/pointer/agent"
	"github/itish2003/pointer/cloud"
	"github/itish2003/pointer/config"
	"github/itish2003/pointer/dispatcher"
	"github/itish2003/pointer/events"
	"github/itish2003/pointer/logger"
	"github/itish2003/pointer/models"
	"github/itish2003/pointer/monitor"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgPath  string
	logLevel string
	logFile  string

	cfg *config.ClientConfig
	log *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "pointer",
		Short:             "Ask the cloud backend or the local agent",
		SilenceUsage:      true,
		PersistentPreRunE: initClient,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultClientPath(), "client config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this rotated file")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(memoryCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initClient(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadClient(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log = logger.New(logger.Options{Level: level, File: logFile})
	return nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func askCmd() *cobra.Command {
	var (
		parts     []string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Dispatch a query and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			bus := events.NewBus(log)
			defer bus.Close()

			streamClient := &http.Client{}
			d := dispatcher.New(bus,
				func(routing config.RoutingConfig) dispatcher.CloudStreamer {
					return cloud.New(routing, streamClient, log)
				},
				agent.New(cfg.Local.Endpoint, &http.Client{Timeout: 2 * time.Minute}),
				dispatcher.Options{
					StreamTimeout: cfg.Dispatch.StreamTimeout.Duration,
					InFlight:      cfg.Dispatch.InFlight,
				},
				log,
			)

			q := dispatcher.Query{
				Text:      strings.Join(args, " "),
				SessionID: sessionID,
			}
			for _, p := range parts {
				q.ContextParts = append(q.ContextParts, models.ContextPart{Type: "selected_text", Content: p})
			}

			fmt.Fprintln(cmd.OutOrStdout(), d.Dispatch(ctx, dispatcher.Snapshot(cfgPath, log), q))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&parts, "context", nil, "selected text to send along (repeatable)")
	cmd.Flags().StringVar(&sessionID, "session", "", "local agent session id")
	return cmd
}

func statusCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the local agent and the cloud backend are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			local := agent.New(cfg.Local.Endpoint, &http.Client{Timeout: cfg.Monitor.Floor.Duration})
			out := cmd.OutOrStdout()

			if watch {
				return watchStatus(ctx, cmd, local)
			}

			if err := local.Ping(ctx); err != nil {
				fmt.Fprintf(out, "local agent:   unreachable (%v)\n", err)
			} else {
				fmt.Fprintln(out, "local agent:   connected")
			}

			routing := dispatcher.Snapshot(cfgPath, log)
			switch {
			case !routing.CloudUsable():
				fmt.Fprintln(out, "cloud backend: disabled")
			default:
				hctx, hcancel := context.WithTimeout(ctx, 10*time.Second)
				defer hcancel()
				if err := cloud.New(routing, nil, log).Health(hctx); err != nil {
					fmt.Fprintf(out, "cloud backend: unreachable (%v)\n", err)
				} else {
					fmt.Fprintln(out, "cloud backend: ok")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep watching local connectivity until interrupted")
	return cmd
}

// watchStatus prints every local connectivity change seen by the monitor.
func watchStatus(ctx context.Context, cmd *cobra.Command, local *agent.Client) error {
	bus := events.NewBus(log)
	defer bus.Close()

	out := cmd.OutOrStdout()
	m := monitor.NewConnectionMonitor(bus, local, monitor.Options{
		Grace:   cfg.Monitor.Grace.Duration,
		Floor:   cfg.Monitor.Floor.Duration,
		Ceiling: cfg.Monitor.Ceiling.Duration,
		OnChange: func(connected bool) {
			state := "disconnected"
			if connected {
				state = "connected"
			}
			fmt.Fprintf(out, "%s local agent %s\n", time.Now().Format(time.TimeOnly), state)
		},
	}, log)
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer m.Stop()

	if cfg.Local.WebSocket != "" {
		l := monitor.NewListener(cfg.Local.WebSocket, bus, monitor.DefaultListenerOptions(), log)
		go l.Run(ctx)
	}

	fmt.Fprintln(out, "local agent disconnected (waiting for first probe)")
	<-ctx.Done()
	return nil
}
