// Package excel exports cross-validation reports as xlsx workbooks.
package excel

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"sleepstage/domain/core"
	"sleepstage/domain/stage"
	"sleepstage/internal"
	"sleepstage/internal/errors"
	"sleepstage/internal/validation"
)

var gridHeaders = []string{
	"Rank", "Smoothing", "HR Weight", "HRV Weight", "RR Weight", "HRV Est Weight",
	"Score", "Accuracy", "REM Sensitivity", "REM Specificity", "REM Precision", "REM F1",
	"Awake Acc", "NREM Acc", "REM Acc", "Fold Mean", "Fold Std", "Fold Min", "Stable Folds",
}

// ReportWriter writes validation reports to disk.
type ReportWriter struct {
	logger *internal.Logger
}

// NewReportWriter creates a writer.
func NewReportWriter(logger *internal.Logger) *ReportWriter {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &ReportWriter{logger: logger}
}

// Write saves report as an xlsx workbook at path with Summary, Grid and
// Confusion sheets. Grid rows are ranked by score.
func (w *ReportWriter) Write(path string, userID core.UserID, report *validation.Report) error {
	if report == nil {
		return errors.InvalidInput("no validation report")
	}
	startTime := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return errors.InternalError("renaming sheet: " + err.Error())
	}
	if err := w.writeSummary(f, userID, report); err != nil {
		return err
	}
	if !report.Skipped {
		if err := w.writeGrid(f, report); err != nil {
			return err
		}
		if err := w.writeConfusion(f, report.Best.Confusion); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.InternalError(fmt.Sprintf("saving workbook %s: %v", path, err))
	}
	w.logger.Info("[ReportWriter] wrote %s (%d grid points) in %.2fms",
		path, len(report.Results), float64(time.Since(startTime).Nanoseconds())/1e6)
	return nil
}

func (w *ReportWriter) writeSummary(f *excelize.File, userID core.UserID, r *validation.Report) error {
	rows := [][]interface{}{
		{"User", userID.String()},
		{"Nights", r.Nights},
		{"Grid Points", len(r.Results)},
		{"Duration (s)", r.Duration.Seconds()},
		{"Skipped", r.Skipped},
	}
	if r.Skipped {
		rows = append(rows, []interface{}{"Reason", r.Reason})
	} else {
		rows = append(rows,
			[]interface{}{"Best Score", r.Best.Score},
			[]interface{}{"Best Accuracy", r.Best.Accuracy},
			[]interface{}{"Best REM Sensitivity", r.Best.RemSensitivity},
		)
	}
	return writeRows(f, SheetSummary, rows)
}

func (w *ReportWriter) writeGrid(f *excelize.File, r *validation.Report) error {
	if _, err := f.NewSheet(SheetGrid); err != nil {
		return errors.InternalError("creating grid sheet: " + err.Error())
	}
	ranked := make([]validation.GridResult, len(r.Results))
	copy(ranked, r.Results)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	rows := [][]interface{}{toRow(gridHeaders)}
	for i, g := range ranked {
		rows = append(rows, []interface{}{
			i + 1,
			g.Params.TemporalSmoothingStrength, g.Params.HRWeight, g.Params.HRVWeight, g.Params.RRWeight, g.Params.HRVEstWeight,
			g.Score, g.Accuracy, g.RemSensitivity, g.RemSpecificity, g.RemPrecision, g.RemF1,
			g.PerStageAccuracy[stage.Awake], g.PerStageAccuracy[stage.NREM], g.PerStageAccuracy[stage.REM],
			g.Stability.MeanAccuracy, g.Stability.StdAccuracy, g.Stability.MinAccuracy, g.Stability.StableFraction,
		})
	}
	if err := writeRows(f, SheetGrid, rows); err != nil {
		return err
	}
	return f.SetPanes(SheetGrid, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func (w *ReportWriter) writeConfusion(f *excelize.File, c validation.ConfusionMatrix) error {
	if _, err := f.NewSheet(SheetConfusion); err != nil {
		return errors.InternalError("creating confusion sheet: " + err.Error())
	}
	header := []interface{}{"truth \\ predicted"}
	for _, s := range stage.All {
		header = append(header, string(s))
	}
	rows := [][]interface{}{header}
	for i, s := range stage.All {
		row := []interface{}{string(s)}
		for j := range stage.All {
			row = append(row, c[i][j])
		}
		rows = append(rows, row)
	}
	return writeRows(f, SheetConfusion, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.InternalError(err.Error())
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.InternalError(fmt.Sprintf("writing %s row %d: %v", sheet, i+1, err))
		}
	}
	return nil
}

func toRow(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
