package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"msgwatch/internal/domain"
	"msgwatch/internal/store"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

func selftestCmd() *cobra.Command {
	var printSchema bool
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Write one healthcheck row to the store and report the outcome",
		Long: `Inserts a row with id healthcheck_<ulid> using the configured store, without
starting a browser, then reads it back. Use it to check credentials, grants
and the table before running the monitor. --print-schema prints the Postgres/Supabase DDL instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				cfg, err := readConfigLoose()
				if err != nil {
					return err
				}
				fmt.Print(store.PostgresSchema(cfg.Store.Table))
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			adapter, err := openStore(ctx, cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer adapter.Close()

			w := store.NewWriter(store.WriterConfig{
				Adapter: adapter,
				Table:   cfg.Store.Table,
				Policy:  store.Policy(cfg.Store.Policy),
				Logger:  logger,
			})
			rec := healthcheckRecord(time.Now())
			outcome := w.Persist(ctx, rec)

			logger.Info("selftest finished", "id", rec.ID, "store", cfg.Store.Driver, "table", cfg.Store.Table, "outcome", outcome)
			if !outcome.Stored() {
				return fmt.Errorf("selftest failed: %s", outcome)
			}

			found, err := readBack(ctx, adapter, rec.ID)
			switch {
			case err != nil:
				logger.Warn("cannot read the healthcheck row back", "id", rec.ID, "err", err)
			case !found:
				logger.Warn("healthcheck row written but not visible to this key; an insert-only policy hides it", "id", rec.ID)
			default:
				logger.Info("healthcheck row read back", "id", rec.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printSchema, "print-schema", false, "print the table DDL and exit")
	return cmd
}

// readBack selects the row with id again through the adapter.
func readBack(ctx context.Context, a store.Adapter, id string) (bool, error) {
	r, ok := a.(store.Reader)
	if !ok {
		return false, errors.New("store cannot read rows back")
	}
	rec, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

func healthcheckRecord(now time.Time) domain.MessageRecord {
	return domain.MessageRecord{
		ID:         "healthcheck_" + ulid.Make().String(),
		TypeName:   "healthcheck",
		Username:   domain.StringPtr("local"),
		CreateTime: domain.StringPtr(now.Format(time.RFC3339)),
		Content:    domain.StringPtr("store insert test"),
		URL:        "",
	}
}
