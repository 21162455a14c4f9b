package jsonexport

import (
	"context"
	"os"
	"sync"
	"time"

	"sleepstage/domain/stage"
	"sleepstage/internal"
	"sleepstage/internal/errors"
	"sleepstage/ports"
)

// FileSource serves an export file as a VitalsSource. The file is read on
// first use and kept in memory.
type FileSource struct {
	path   string
	logger *internal.Logger

	once   sync.Once
	export *Export
	err    error
}

var _ ports.VitalsSource = (*FileSource)(nil)

// NewFileSource creates a source over the export at path.
func NewFileSource(path string, logger *internal.Logger) *FileSource {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &FileSource{path: path, logger: logger}
}

func (f *FileSource) load() (*Export, error) {
	f.once.Do(func() {
		data, err := os.ReadFile(f.path)
		if err != nil {
			f.err = errors.ExternalServiceError("export file", err)
			return
		}
		f.export, f.err = Parse(data)
		if f.err == nil {
			f.logger.Info("[JSONExport] loaded %s: %d hr, %d hrv, %d rr samples, %d stage intervals",
				f.path, len(f.export.HeartRate), len(f.export.HRV), len(f.export.Respiratory), len(f.export.Stages))
		}
	})
	return f.export, f.err
}

func (f *FileSource) FetchHeartRateSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error) {
	e, err := f.load()
	if err != nil {
		return nil, err
	}
	return inRange(e.HeartRate, start, end), nil
}

func (f *FileSource) FetchHRVSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error) {
	e, err := f.load()
	if err != nil {
		return nil, err
	}
	return inRange(e.HRV, start, end), nil
}

func (f *FileSource) FetchRespiratoryRateSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error) {
	e, err := f.load()
	if err != nil {
		return nil, err
	}
	return inRange(e.Respiratory, start, end), nil
}

// FetchSleepStageIntervals returns intervals that overlap [start, end).
func (f *FileSource) FetchSleepStageIntervals(ctx context.Context, start, end time.Time) ([]stage.Interval, error) {
	e, err := f.load()
	if err != nil {
		return nil, err
	}
	var out []stage.Interval
	for _, iv := range e.Stages {
		if iv.End.After(start) && iv.Start.Before(end) {
			out = append(out, iv)
		}
	}
	return out, nil
}

func inRange(samples []stage.Sample, start, end time.Time) []stage.Sample {
	var out []stage.Sample
	for _, s := range samples {
		if !s.Time.Before(start) && s.Time.Before(end) {
			out = append(out, s)
		}
	}
	return out
}
