package main

import (
	"fmt"
	"slices"
	"strings"

	"ratewatch/internal/logging"
	"ratewatch/internal/sink"
	"ratewatch/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type loadFlags struct {
	cfg configFlags
	log logFlags
	db  dbFlags

	input string
}

// newLoadCmd saves a previously written JSON or CSV file into SQL.
func newLoadCmd(s streams) *cobra.Command {
	var f loadFlags
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Save records from a JSON or CSV file into a database table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.input == "" {
				return usageError(fmt.Errorf("--input is required"))
			}
			cfg, err := f.cfg.load()
			if err != nil {
				return err
			}
			f.log.apply(cmd, &cfg.Log)
			f.db.apply(cmd, &cfg.DB)

			switch {
			case cfg.DB.Kind == "":
				return usageError(fmt.Errorf("no database: set --db-kind or DB_TYPE"))
			case !slices.Contains(storage.Kinds(), cfg.DB.Kind):
				return usageError(fmt.Errorf("unsupported db kind %q (supported: %s)", cfg.DB.Kind, strings.Join(storage.Kinds(), ", ")))
			case cfg.DB.Table == "":
				return usageError(fmt.Errorf("--db-table is required"))
			}

			log, logCloser, err := logging.New(logging.Config{Level: cfg.Log.Level, File: cfg.Log.File})
			if err != nil {
				return usageError(err)
			}
			defer logCloser.Close()
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			m, closeMetrics := openMetrics(ctx, cfg.Metrics, log)
			defer closeMetrics()

			recs, err := sink.ReadFile(f.input, s.in)
			if err != nil {
				return fmt.Errorf("read %s: %w", f.input, err)
			}
			log.Info("records read", zap.String("file", f.input), zap.Int("records", len(recs)))

			n, err := saveRecords(ctx, cfg.DB, recs, log, m)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "saved %d rows into %s:%s\n", n, cfg.DB.Kind, cfg.DB.Table)
			return nil
		},
	}

	f.cfg.register(cmd)
	f.log.register(cmd)
	f.db.register(cmd)
	cmd.Flags().StringVarP(&f.input, "input", "i", "", `records file (.json or .csv); "-" reads JSON from stdin`)
	return cmd
}
