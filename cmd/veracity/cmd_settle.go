package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Harshitk-cp/veracity/internal/config"
	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/events"
	"github.com/Harshitk-cp/veracity/internal/service"
	"github.com/Harshitk-cp/veracity/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSettleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle one content item for a closed epoch",
		Long: `Run the settlement for one (content, epoch) pair against the configured
store, with the same retry policy as the server. Only pairs the scheduler
recorded as failed are settled; the running server owns every other pair. A
pair that already settled is reported unchanged.

Examples:
  veracity settle --content post-1 --epoch 121000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			contentID, _ := cmd.Flags().GetString("content")
			epoch, _ := cmd.Flags().GetUint64("epoch")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			rec, err := runSettle(ctx, contentID, epoch, logger)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "content:      %s\n", rec.ContentID)
			fmt.Fprintf(out, "epoch:        %d\n", rec.EpochNumber)
			fmt.Fprintf(out, "status:       %s\n", rec.Status)
			fmt.Fprintf(out, "attempts:     %d\n", rec.Attempts)
			fmt.Fprintf(out, "contributors: %d\n", rec.Contributors)
			for k, v := range rec.Values {
				fmt.Fprintf(out, "  %s = %d\n", k, v)
			}
			return nil
		},
	}

	cmd.Flags().String("content", "", "Content ID (required)")
	cmd.Flags().Uint64("epoch", 0, "Epoch number (required)")
	_ = cmd.MarkFlagRequired("content")
	_ = cmd.MarkFlagRequired("epoch")

	return cmd
}

func runSettle(ctx context.Context, contentID string, epoch uint64, logger *zap.Logger) (*domain.SettlementRecord, error) {
	backend, err := store.OpenBackend(ctx, store.BackendConfig{
		Kind:           config.StoreBackend(),
		DatabaseURL:    config.DatabaseURL(),
		MigrationsPath: config.MigrationsPath(),
		SQLitePath:     config.SQLitePath(),
		Submissions:    config.SubmissionBackend(),
		RedisAddr:      config.RedisAddr(),
		RedisPassword:  config.RedisPassword(),
		RedisDB:        config.RedisDB(),
	}, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = backend.Close() }()

	var publisher domain.EventPublisher = events.NewLogPublisher(logger)
	if brokers := config.KafkaBrokers(); len(brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(brokers, config.KafkaTopic(), "veracity-cli", logger)
		if err != nil {
			return nil, err
		}
		publisher = kafka
	}
	defer func() { _ = publisher.Close() }()

	agg := service.NewAggregator(backend.Signals, backend.Submissions, backend.Settlements, config.BTSTemperature(), logger)
	scheduler := service.NewEpochScheduler(agg, backend.Submissions, backend.Settlements, service.NewEpochGate(),
		publisher, nil, service.SchedulerConfig{
			MaxRetries: config.SettlementMaxRetries(),
			BaseDelay:  config.SettlementBaseDelay(),
			MaxDelay:   config.SettlementMaxDelay(),
			Timeout:    config.SettlementTimeout(),
		}, logger)

	return settleFailed(ctx, scheduler, contentID, epoch)
}

var errNotFailed = errors.New("only pairs recorded as failed can be settled from the CLI")

// settleFailed settles a pair the server gave up on. This process does not
// share the server's epoch gate or locks, so anything else is refused.
func settleFailed(ctx context.Context, scheduler *service.EpochScheduler, contentID string, epoch uint64) (*domain.SettlementRecord, error) {
	rec, err := scheduler.Record(ctx, contentID, epoch)
	switch {
	case errors.Is(err, service.ErrSettlementNotFound):
		return nil, fmt.Errorf("%s at epoch %d has no settlement record: %w", contentID, epoch, errNotFailed)
	case err != nil:
		return nil, err
	case rec.Status.Done():
		return rec, nil
	case rec.Status != domain.SettlementFailed:
		return nil, fmt.Errorf("%s at epoch %d is %s: %w", contentID, epoch, rec.Status, errNotFailed)
	}
	return scheduler.Settle(ctx, contentID, epoch)
}
