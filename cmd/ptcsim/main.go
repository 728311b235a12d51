// The ptcsim command runs the pieces of the PTC simulation: the message
// broker, a locomotive and the back office server. Each piece is its own
// subcommand so they can run as separate processes against one broker.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"

	ptcsim "github.com/dbuentello/PTC-Sim"
	"github.com/dbuentello/PTC-Sim/bos"
	"github.com/dbuentello/PTC-Sim/track"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "ptcsim",
	Short:        "Positive Train Control simulation: broker, locos and back office.",
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ptcsim.toml",
		"path to the TOML configuration file")
	rootCmd.AddCommand(brokerCmd, locoCmd, bosCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runCtx returns the root context of a subcommand: logger installed,
// cancelled on SIGINT/SIGTERM.
func runCtx() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logger.WithLogger(ctx, logger.New(logger.DefaultConfig))
	return ctx, cancel
}

// clean maps the cancellation caused by a shutdown signal to a clean exit.
func clean(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the store-and-forward message broker.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		ctx, cancel := runCtx()
		defer cancel()

		sendLs, err := net.Listen("tcp",
			net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(int(cfg.Broker.SendPort))))
		if err != nil {
			return errors.WithStack(err)
		}
		fetchLs, err := net.Listen("tcp",
			net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(int(cfg.Broker.FetchPort))))
		if err != nil {
			_ = sendLs.Close()
			return errors.WithStack(err)
		}

		return clean(ptcsim.RunBroker(ctx, sendLs, fetchLs, ptcsim.BrokerConfig{
			MaxFrameSize: cfg.Broker.MaxFrameSize,
			NetTimeout:   cfg.Broker.NetTimeout,
		}))
	},
}

var locoID string

var locoCmd = &cobra.Command{
	Use:   "loco",
	Short: "Run one locomotive simulation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		loco, ok := cfg.loco(locoID)
		if !ok {
			return errors.Errorf("loco %q is not configured", locoID)
		}

		ctx, cancel := runCtx()
		defer cancel()

		client := ptcsim.NewClient(cfg.clientConfig())
		loco.Connections = map[string]*ptcsim.Connection{}
		for _, label := range radioLabels(cfg.Track.Radios) {
			loco.Connections[label] = ptcsim.NewConnection(client, ptcsim.ConnectionConfig{
				ID:      label,
				Timeout: cfg.Track.ConnTimeout,
			})
		}

		return clean(track.RunLoco(ctx, loco, cfg.Track.Bases, track.LocoConfig{
			BOSAddr:  cfg.Messaging.BOSAddr,
			Interval: cfg.Messaging.Interval,
		}))
	},
}

var bosCmd = &cobra.Command{
	Use:   "bos",
	Short: "Run the back office server fleet watcher.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		ctx, cancel := runCtx()
		defer cancel()

		client := ptcsim.NewClient(cfg.clientConfig())
		watcher := bos.NewWatcher(client, track.NewFleet(), bos.Config{
			Addr:     cfg.Messaging.BOSAddr,
			Interval: cfg.Messaging.Interval,
		})

		return clean(parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
			spawn("watcher", parallel.Fail, watcher.Run)
			return nil
		}))
	},
}

func radioLabels(count int) []string {
	labels := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		labels = append(labels, "radio"+strconv.Itoa(i))
	}
	return labels
}

func init() {
	locoCmd.Flags().StringVar(&locoID, "id", "", "ID of the loco to run")
	_ = locoCmd.MarkFlagRequired("id")
}
