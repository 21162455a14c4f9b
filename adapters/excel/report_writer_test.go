package excel

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal/errors"
	"sleepstage/internal/validation"
)

func sampleReport() *validation.Report {
	var c validation.ConfusionMatrix
	c.Add(stage.NREM, stage.NREM)
	c.Add(stage.NREM, stage.NREM)
	c.Add(stage.REM, stage.NREM)
	c.Add(stage.Awake, stage.Awake)

	weak := validation.GridResult{Params: model.NewHyperparameters(0.1, 0.5, 0.2), Score: 1.1, Accuracy: 0.6}
	best := validation.GridResult{
		Params: model.NewHyperparameters(0.3, 0.4, 0.3), Score: 2.4, Accuracy: 0.75, RemSensitivity: 0.5,
		Confusion: c, PerStageAccuracy: map[stage.Stage]float64{stage.Awake: 1, stage.NREM: 1, stage.REM: 0},
	}
	return &validation.Report{Nights: 5, Best: &best, Results: []validation.GridResult{weak, best}, Duration: 3 * time.Second}
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cv.xlsx")
	require.NoError(t, NewReportWriter(nil).Write(path, "u1", sampleReport()))

	summary, err := readSheet(path, SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{"User", "u1"}, summary.Headers)
	require.NotEmpty(t, summary.Rows)
	assert.Equal(t, "5", summary.Rows[0]["u1"])

	grid, err := readSheet(path, SheetGrid)
	require.NoError(t, err)
	require.Len(t, grid.Rows, 2)
	assert.Equal(t, "1", grid.Rows[0]["Rank"])
	score, err := strconv.ParseFloat(grid.Rows[0]["Score"], 64)
	require.NoError(t, err)
	assert.Equal(t, 2.4, score)
	assert.Equal(t, "2", grid.Rows[1]["Rank"])

	confusion, err := readSheet(path, SheetConfusion)
	require.NoError(t, err)
	require.Len(t, confusion.Rows, 3)
	nrem := confusion.Rows[1]
	assert.Equal(t, "nrem", nrem["truth \\ predicted"])
	assert.Equal(t, "2", nrem["nrem"])
	assert.Equal(t, "1", confusion.Rows[2]["nrem"], "missed rem ticks land in the nrem column")
}

func TestWriteSkippedReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cv.xlsx")
	report := &validation.Report{Skipped: true, Reason: "need at least 2 nights", Nights: 1}
	require.NoError(t, NewReportWriter(nil).Write(path, "u1", report))

	_, err := readSheet(path, SheetGrid)
	assert.Error(t, err, "skipped reports have no grid sheet")

	assert.True(t, errors.Is(NewReportWriter(nil).Write(path, "u1", nil), errors.CodeInvalidInput))
}
