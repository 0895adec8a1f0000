package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/training-stats/internal/monitoring"
	"github.com/sells-group/training-stats/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load a course export into the store and rebuild the dataset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		sheet, _ := cmd.Flags().GetString("sheet")
		source, _ := cmd.Flags().GetString("source")
		if file == "" {
			return eris.New("--file is required")
		}
		if source == "" {
			source = filepath.Base(file)
		}

		env, err := initEnv(ctx, cfg, "ingest", true)
		if err != nil {
			return err
		}
		defer env.Close()

		table, err := readTable(file, sheet)
		if err != nil {
			return err
		}

		res, err := env.Service.Ingest(ctx, source, table)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("ingest complete",
			zap.String("ingest_id", res.IngestID),
			zap.String("source", res.Source),
			zap.Int("rows", res.Rows),
			zap.Int("records", res.Records),
			zap.Int("malformed_rows", res.Warnings.MalformedRows),
			zap.Int("invalidated", res.Invalidated),
			zap.Duration("elapsed", res.Elapsed),
		)

		ds := env.Service.Dataset()
		fmt.Fprint(os.Stdout, pipeline.FormatReport(source, ds))

		alerter := monitoring.NewAlerter(cfg.Monitoring, env.Metrics)
		alerts := alerter.Evaluate(monitoring.BuildHealthReport(ds))
		for _, a := range alerts {
			zap.L().Warn("data quality alert",
				zap.String("type", string(a.Type)),
				zap.String("severity", a.Severity),
				zap.String("message", a.Message),
			)
		}
		alerter.SendAlerts(ctx, alerts)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("file", "", "path to a CSV or xlsx export (required)")
	ingestCmd.Flags().String("sheet", "", "worksheet name for xlsx files (default: first sheet)")
	ingestCmd.Flags().String("source", "", "source label stored with the ingest (default: file name)")
	rootCmd.AddCommand(ingestCmd)
}
