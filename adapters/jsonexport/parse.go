// Package jsonexport reads vitals and labeled sleep stages from a health
// data export file and implements ports.VitalsSource over it.
package jsonexport

import (
	"time"

	"github.com/tidwall/gjson"

	"sleepstage/domain/stage"
	"sleepstage/internal/errors"
)

// Export is the decoded content of an export document.
type Export struct {
	HeartRate   []stage.Sample
	HRV         []stage.Sample
	Respiratory []stage.Sample
	Stages      []stage.Interval
}

// Parse decodes an export document. Records with unparseable times or
// missing values are skipped.
func Parse(data []byte) (*Export, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.InvalidInput("export is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.Get("hrSamples").Exists() && !doc.Get("sleepStages").Exists() {
		return nil, errors.InvalidInput("export has neither hrSamples nor sleepStages")
	}
	return &Export{
		HeartRate:   Samples(doc.Get("hrSamples"), "bpm", "value"),
		HRV:         Samples(doc.Get("hrvSamples"), "ms", "value"),
		Respiratory: Samples(doc.Get("respiratorySamples"), "value", "breathsPerMinute"),
		Stages:      Intervals(doc.Get("sleepStages")),
	}, nil
}

// Samples reads an array of {time, <value>} records. The first present key
// in valueKeys is the value. The result is sorted by time.
func Samples(arr gjson.Result, valueKeys ...string) []stage.Sample {
	var out []stage.Sample
	arr.ForEach(func(_, rec gjson.Result) bool {
		t, ok := parseTime(rec.Get("time").String())
		if !ok {
			return true
		}
		for _, k := range valueKeys {
			if v := rec.Get(k); v.Exists() && v.Type == gjson.Number {
				out = append(out, stage.Sample{Value: v.Float(), Time: t})
				break
			}
		}
		return true
	})
	stage.SortSamples(out)
	return out
}

// Intervals reads an array of {startTime, endTime, stage} records.
// Unrecognised labels are kept as Stage4Unknown so they still count toward
// session segmentation; labelling ignores them.
func Intervals(arr gjson.Result) []stage.Interval {
	var out []stage.Interval
	arr.ForEach(func(_, rec gjson.Result) bool {
		start, ok1 := parseTime(rec.Get("startTime").String())
		end, ok2 := parseTime(rec.Get("endTime").String())
		label := stage.ParseStage4(rec.Get("stage").String())
		if ok1 && ok2 && end.After(start) {
			out = append(out, stage.Interval{Stage: label, Start: start, End: end})
		}
		return true
	})
	stage.SortIntervals(out)
	return out
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05 -0700"}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
