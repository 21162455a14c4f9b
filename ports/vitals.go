package ports

import (
	"context"
	"time"

	"sleepstage/domain/stage"
)

// VitalsSource provides historical samples and ground-truth stage intervals
// from a wearable vendor. Implementations differ per platform; the
// classification core only sees this interface.
type VitalsSource interface {
	FetchHeartRateSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error)
	FetchHRVSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error)
	FetchRespiratoryRateSamples(ctx context.Context, start, end time.Time) ([]stage.Sample, error)
	FetchSleepStageIntervals(ctx context.Context, start, end time.Time) ([]stage.Interval, error)
}
