package training

import (
	"sort"
	"time"

	"sleepstage/domain/stage"
)

const (
	// DefaultSessionGap splits intervals into separate nights.
	DefaultSessionGap = 4 * time.Hour
	// DefaultMinIntervals discards sessions with fewer intervals as noise.
	DefaultMinIntervals = 5
)

// Segment groups intervals into nights. Consecutive intervals separated by at
// most gap belong to the same night; nights with fewer than minIntervals
// intervals are dropped. Input order does not matter.
func Segment(intervals []stage.Interval, gap time.Duration, minIntervals int) []stage.Night {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]stage.Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.End.After(iv.Start) {
			sorted = append(sorted, iv)
		}
	}
	stage.SortIntervals(sorted)

	var nights []stage.Night
	var current []stage.Interval
	flush := func() {
		if len(current) >= minIntervals {
			nights = append(nights, stage.Night{Intervals: current})
		}
		current = nil
	}

	var lastEnd time.Time
	for _, iv := range sorted {
		if len(current) > 0 && iv.Start.Sub(lastEnd) > gap {
			flush()
		}
		current = append(current, iv)
		if iv.End.After(lastEnd) || len(current) == 1 {
			lastEnd = iv.End
		}
	}
	flush()
	return nights
}

// AttachSamples copies into each night the samples that fall inside one of
// its intervals. The sample pools are not modified.
func AttachSamples(nights []stage.Night, hr, hrv, rr []stage.Sample) []stage.Night {
	hr = sortedCopy(hr)
	hrv = sortedCopy(hrv)
	rr = sortedCopy(rr)

	out := make([]stage.Night, len(nights))
	for i, n := range nights {
		n.HeartRate = samplesWithin(hr, n.Intervals)
		n.HRV = samplesWithin(hrv, n.Intervals)
		n.RespRate = samplesWithin(rr, n.Intervals)
		out[i] = n
	}
	return out
}

// KeepLatest returns at most max nights, keeping the most recent.
func KeepLatest(nights []stage.Night, max int) []stage.Night {
	if max <= 0 || len(nights) <= max {
		return nights
	}
	return nights[len(nights)-max:]
}

func sortedCopy(samples []stage.Sample) []stage.Sample {
	out := make([]stage.Sample, len(samples))
	copy(out, samples)
	stage.SortSamples(out)
	return out
}

// samplesWithin collects samples in [start, end) of each interval using a
// binary search over the time-sorted pool.
func samplesWithin(sorted []stage.Sample, intervals []stage.Interval) []stage.Sample {
	var out []stage.Sample
	for _, iv := range intervals {
		lo := sort.Search(len(sorted), func(i int) bool {
			return !sorted[i].Time.Before(iv.Start)
		})
		for j := lo; j < len(sorted) && sorted[j].Time.Before(iv.End); j++ {
			out = append(out, sorted[j])
		}
	}
	stage.SortSamples(out)
	return dedupe(out)
}

// dedupe drops samples repeated by overlapping intervals.
func dedupe(samples []stage.Sample) []stage.Sample {
	if len(samples) < 2 {
		return samples
	}
	out := samples[:1]
	for _, s := range samples[1:] {
		last := out[len(out)-1]
		if s.Time.Equal(last.Time) && s.Value == last.Value {
			continue
		}
		out = append(out, s)
	}
	return out
}
