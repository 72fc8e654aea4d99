package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fleet-dispatch/internal/config"
	"fleet-dispatch/internal/events"
	"fleet-dispatch/pkg/kafka"
	"fleet-dispatch/pkg/logger"
)

var tailGroup string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect lifecycle events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail [topic...]",
	Short: "Print lifecycle events from Kafka until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		brokers := cfg.Kafka.BrokerList()
		if len(brokers) == 0 {
			return fmt.Errorf("kafka.brokers is not configured")
		}
		topics := args
		if len(topics) == 0 {
			topics = events.Topics()
		}

		logger.Setup(logger.Options{Level: cfg.Logging.Level})
		kc := kafka.NewClient(brokers, logger.New("kafka"))
		defer kc.Close()

		out := cmd.OutOrStdout()
		for _, topic := range topics {
			topic := topic
			kc.Subscribe(ctx, topic, tailGroup, func(key, value []byte) error {
				_, err := fmt.Fprintf(out, "%s %s %s\n", topic, key, value)
				return err
			})
		}
		<-ctx.Done()
		return nil
	},
}

func init() {
	eventsTailCmd.Flags().StringVar(&tailGroup, "group", "fleet-dispatch-tail", "kafka consumer group")
	eventsCmd.AddCommand(eventsTailCmd)
}
