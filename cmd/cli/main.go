package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sleepstage/adapters/excel"
	"sleepstage/adapters/jsonexport"
	"sleepstage/adapters/postgres"
	"sleepstage/app"
	"sleepstage/domain/core"
	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal"
	"sleepstage/internal/config"
	"sleepstage/internal/container"
	"sleepstage/internal/errors"
	"sleepstage/internal/migration"
	"sleepstage/internal/smoother"
	"sleepstage/internal/training"
	"sleepstage/internal/validation"
)

func main() {
	_ = godotenv.Load()

	var verbose bool
	rootCmd := &cobra.Command{
		Use:           "sleepstage",
		Short:         "Train, validate and review personalized sleep stage models",
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	logger := func() *internal.Logger {
		level := internal.LogLevelInfo
		if verbose {
			level = internal.LogLevelDebug
		}
		return internal.NewLogger(level, "console", "sleepstage-cli")
	}

	rootCmd.AddCommand(
		newTrainCmd(logger),
		newValidateCmd(logger),
		newClassifyCmd(logger),
		newMigrateCmd(logger),
	)

	if err := rootCmd.Execute(); err != nil {
		if errors.IsAppError(err) {
			fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", errors.GetCode(err), err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newTrainCmd(logger func() *internal.Logger) *cobra.Command {
	var hoursBack int
	var xlsxPath string

	cmd := &cobra.Command{
		Use:   "train [user-id]",
		Short: "Train and cross validate a model from the configured vitals source",
		Long: `Fetch labeled history, train a model, cross validate it and save it
to the configured database.

Example: sleepstage train alice --hours 720 --xlsx alice-cv.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := core.ParseUserID(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return errors.Wrap(err, "failed to load configuration")
			}
			log := logger()
			c, err := container.New(cfg, log)
			if err != nil {
				return err
			}
			if err := c.Init(cmd.Context()); err != nil {
				return errors.Wrap(err, "failed to initialize")
			}
			defer c.Shutdown(context.Background())

			m, report := c.Training.TrainModel(cmd.Context(), userID, hoursBack, func(p app.Progress) {
				fmt.Printf("[%3d%%] %-10s %s\n", p.Percent, p.Stage, p.Message)
			})
			printTrainingReport(m, report)

			if xlsxPath != "" && report.Validation != nil {
				if err := excel.NewReportWriter(log).Write(xlsxPath, userID, report.Validation); err != nil {
					return err
				}
				fmt.Printf("Cross-validation workbook written to %s\n", xlsxPath)
			}
			if len(report.Errors) > 0 {
				return errors.New(errors.CodeTrainingFailed, fmt.Sprintf("training finished with %d errors", len(report.Errors)))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&hoursBack, "hours", 0, "Hours of history to train on (default TRAINING_HOURS_BACK)")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write the cross-validation report to this xlsx file")
	return cmd
}

func newValidateCmd(logger func() *internal.Logger) *cobra.Command {
	var workers int
	var maxNights int
	var xlsxPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate [export-file]",
		Short: "Cross validate over every night in a health export without saving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger()
			nights, err := loadNights(cmd.Context(), args[0], maxNights, log)
			if err != nil {
				return err
			}

			hc := validation.DefaultConfig()
			hc.Workers = workers
			report, err := validation.NewHarness(hc, validation.WithLogger(log)).
				Run(cmd.Context(), "cli", nights, validation.DefaultGrid())
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(report)
			}
			printValidationReport(report)
			if xlsxPath != "" {
				if err := excel.NewReportWriter(log).Write(xlsxPath, "cli", report); err != nil {
					return err
				}
				fmt.Printf("Workbook written to %s\n", xlsxPath)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 4, "Parallel grid workers")
	cmd.Flags().IntVar(&maxNights, "max-nights", 30, "Use at most this many of the latest nights")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write the report to this xlsx file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func newClassifyCmd(logger func() *internal.Logger) *cobra.Command {
	var nightIndex int
	var untrained bool
	var showTicks bool

	cmd := &cobra.Command{
		Use:   "classify [export-file]",
		Short: "Replay one recorded night and compare live and Viterbi-decoded stages",
		Long: `Replay a recorded night tick by tick through the live classifier and the
forward smoother, then decode the whole night with Viterbi. The model is
trained on the other nights in the export unless --untrained is set.

Example: sleepstage classify export.json --night -1 --ticks`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger()
			nights, err := loadNights(cmd.Context(), args[0], 0, log)
			if err != nil {
				return err
			}
			idx := nightIndex
			if idx < 0 {
				idx += len(nights)
			}
			if idx < 0 || idx >= len(nights) {
				return errors.New(errors.CodeInvalidInput, fmt.Sprintf("night %d out of range (export has %d nights)", nightIndex, len(nights)))
			}

			var m *model.LearnedModel
			if !untrained && len(nights) > 1 {
				rest := make([]stage.Night, 0, len(nights)-1)
				rest = append(rest, nights[:idx]...)
				rest = append(rest, nights[idx+1:]...)
				m, _ = training.NewTrainer(training.WithLogger(log)).Train("cli", rest)
			}

			review := validation.ReviewNight(m, nights[idx], container.ClassifierConfig(*config.LoadClassifierConfig()), smoother.DefaultConfig())
			if showTicks {
				for _, tick := range review.Ticks {
					fmt.Printf("%s  truth=%-5s raw=%-5s smoothed=%-5s decoded=%-5s\n",
						tick.Time.Format(time.Kitchen), tick.Truth, tick.Raw, tick.Smoothed, tick.Decoded)
				}
			}
			fmt.Printf("Night %d (%s), %d ticks, model=%t\n", idx, nights[idx].Start().Format(time.RFC3339), len(review.Ticks), m != nil)
			for _, row := range []struct {
				name string
				cm   validation.ConfusionMatrix
			}{{"raw", review.Raw}, {"smoothed", review.Smoothed}, {"viterbi", review.Decoded}} {
				fmt.Printf("  %-9s accuracy %.3f  REM sensitivity %.3f  REM specificity %.3f\n",
					row.name, row.cm.Accuracy(), row.cm.Recall(stage.REM), row.cm.Specificity(stage.REM))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&nightIndex, "night", -1, "Night index; negative counts from the latest")
	cmd.Flags().BoolVar(&untrained, "untrained", false, "Classify with population priors only")
	cmd.Flags().BoolVar(&showTicks, "ticks", false, "Print every tick")
	return cmd
}

func newMigrateCmd(logger func() *internal.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return errors.Wrap(err, "failed to load configuration")
			}
			db, err := postgres.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			runner := migration.NewRunner()
			if err := runner.Run(cmd.Context(), db); err != nil {
				return err
			}
			logger().Info("[Migrate] schema %s applied to %s database", runner.Version(), cfg.Database.Driver)
			return nil
		},
	}
}

// loadNights reads every labeled night from an export file.
func loadNights(ctx context.Context, path string, maxNights int, log *internal.Logger) ([]stage.Night, error) {
	src := jsonexport.NewFileSource(path, log)
	start, end := time.Time{}, time.Now().AddDate(100, 0, 0)

	intervals, err := src.FetchSleepStageIntervals(ctx, start, end)
	if err != nil {
		return nil, err
	}
	hr, err := src.FetchHeartRateSamples(ctx, start, end)
	if err != nil {
		return nil, err
	}
	hrv, _ := src.FetchHRVSamples(ctx, start, end)
	rr, _ := src.FetchRespiratoryRateSamples(ctx, start, end)

	nights := training.Segment(intervals, training.DefaultSessionGap, training.DefaultMinIntervals)
	if maxNights > 0 {
		nights = training.KeepLatest(nights, maxNights)
	}
	nights = training.AttachSamples(nights, hr, hrv, rr)
	if len(nights) == 0 {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("no labeled nights in %s", path))
	}
	fmt.Printf("Loaded %d nights from %s\n", len(nights), path)
	return nights, nil
}

func printTrainingReport(m *model.LearnedModel, r *app.TrainingReport) {
	fmt.Printf("\nRun %s for %s\n", r.RunID, r.UserID)
	fmt.Printf("Window:       %s .. %s\n", r.RangeStart.Format(time.RFC3339), r.RangeEnd.Format(time.RFC3339))
	fmt.Printf("Nights:       %d found, %d used\n", r.NightsFound, r.NightsUsed)
	fmt.Printf("Stages:       %d of %d modeled\n", m.ModeledStages(), len(stage.All))
	fmt.Printf("Saved:        %t (usable=%t)\n", r.Saved, m.IsUsable())
	if r.Validation != nil {
		printValidationReport(r.Validation)
	}
	for _, w := range r.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	for _, e := range r.Errors {
		fmt.Printf("error: %s\n", e)
	}
	fmt.Printf("Duration:     %v\n", r.Duration.Round(time.Millisecond))
}

func printValidationReport(r *validation.Report) {
	if r.Skipped {
		fmt.Printf("Validation skipped: %s\n", r.Reason)
		return
	}
	b := r.Best
	fmt.Printf("Validation over %d nights, %d grid points (%v)\n", r.Nights, len(r.Results), r.Duration.Round(time.Millisecond))
	fmt.Printf("  best params      smoothing=%.2f hr=%.2f hrv=%.2f\n",
		b.Params.TemporalSmoothingStrength, b.Params.HRWeight, b.Params.HRVWeight)
	fmt.Printf("  accuracy         %.3f\n", b.Accuracy)
	fmt.Printf("  REM sensitivity  %.3f\n", b.RemSensitivity)
	fmt.Printf("  REM specificity  %.3f\n", b.RemSpecificity)
	fmt.Printf("  REM F1           %.3f\n", b.RemF1)
	fmt.Printf("  fold accuracy    %.3f ± %.3f (min %.3f, %.0f%% of %d folds stable)\n",
		b.Stability.MeanAccuracy, b.Stability.StdAccuracy, b.Stability.MinAccuracy, 100*b.Stability.StableFraction, b.Stability.Folds)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
