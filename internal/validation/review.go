package validation

import (
	"time"

	"sleepstage/domain/model"
	"sleepstage/domain/stage"
	"sleepstage/internal/classifier"
	"sleepstage/internal/smoother"
)

// ReviewTick is one heart-rate tick of a reviewed night.
type ReviewTick struct {
	Time     time.Time   `json:"time"`
	Truth    stage.Stage `json:"truth,omitempty"`
	Raw      stage.Stage `json:"raw"`
	Smoothed stage.Stage `json:"smoothed"`
	Decoded  stage.Stage `json:"decoded"`
}

// NightReview compares the live path of a recorded night (raw classifier
// and forward smoother) with its offline Viterbi decoding.
type NightReview struct {
	Ticks    []ReviewTick    `json:"ticks"`
	Raw      ConfusionMatrix `json:"raw"`
	Smoothed ConfusionMatrix `json:"smoothed"`
	Decoded  ConfusionMatrix `json:"decoded"`
}

// ReviewNight replays night through a fresh classifier session. m may be
// nil, in which case the prior transition matrix is used for decoding.
func ReviewNight(m *model.LearnedModel, night stage.Night, cc classifier.Config, sc smoother.Config) NightReview {
	var review NightReview
	hr := sortedSamples(night.HeartRate)
	if len(hr) == 0 || len(night.Intervals) == 0 {
		return review
	}
	hrv := sortedSamples(night.HRV)

	transitions := model.PriorTransitionMatrix()
	if m != nil {
		transitions = m.Transitions
	}

	session := classifier.NewSession(m, cc)
	session.Start(night.Start())
	sm := smoother.New(transitions, sc)
	sm.Reset(night.Start())

	emissions := make([]stage.Probabilities, 0, len(hr))
	review.Ticks = make([]ReviewTick, 0, len(hr))
	for _, sample := range hr {
		value, ts := sample.Value, sample.Time
		r := session.ClassifyTick(classifier.Input{
			HeartRate:       &value,
			HRV:             latestBefore(hrv, ts, HRVMatchWindow),
			VitalsTimestamp: &ts,
		}, ts)
		est := sm.Update(r.Probabilities, ts)
		emissions = append(emissions, r.Probabilities.Normalize())
		review.Ticks = append(review.Ticks, ReviewTick{Time: ts, Raw: r.Stage, Smoothed: est.Stage})
	}

	path := smoother.Viterbi(emissions, smoother.TickTransitions(transitions, sc.Stickiness), smoother.InitialBelief)
	for i := range review.Ticks {
		tick := &review.Ticks[i]
		tick.Decoded = path[i]
		truth, ok := night.LabelAt(tick.Time)
		if !ok {
			continue
		}
		tick.Truth = truth
		review.Raw.Add(truth, tick.Raw)
		review.Smoothed.Add(truth, tick.Smoothed)
		review.Decoded.Add(truth, tick.Decoded)
	}
	return review
}
