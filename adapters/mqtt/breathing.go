package mqtt

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"sleepstage/domain/core"
	"sleepstage/internal"
	"sleepstage/ports"
)

// DefaultBreathingMaxAge is how long a breathing summary stays current.
const DefaultBreathingMaxAge = 30 * time.Second

// BreathingFeed keeps the latest breathing analysis per user from a wildcard
// topic such as "sleepstage/+/breathing". The '+' segment is the user id.
type BreathingFeed struct {
	pattern []string
	maxAge  time.Duration
	now     func() time.Time
	logger  *internal.Logger

	mu     sync.RWMutex
	latest map[core.UserID]ports.BreathingAnalysis
}

// NewBreathingFeed creates a feed for pattern.
func NewBreathingFeed(pattern string, logger *internal.Logger) *BreathingFeed {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &BreathingFeed{
		pattern: strings.Split(pattern, "/"),
		maxAge:  DefaultBreathingMaxAge,
		now:     time.Now,
		logger:  logger,
		latest:  make(map[core.UserID]ports.BreathingAnalysis),
	}
}

// Subscribe registers the feed with the broker.
func (f *BreathingFeed) Subscribe(b Broker) error {
	return b.Subscribe(strings.Join(f.pattern, "/"), 0, f.Handle)
}

// Handle ingests one message. Malformed messages are logged and dropped.
func (f *BreathingFeed) Handle(topic string, payload []byte) {
	userID, ok := f.userFromTopic(topic)
	if !ok {
		f.logger.Debug("[BreathingFeed] ignoring topic %s", topic)
		return
	}
	var a ports.BreathingAnalysis
	if err := json.Unmarshal(payload, &a); err != nil {
		f.logger.Warn("[BreathingFeed] bad payload on %s: %v", topic, err)
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = f.now()
	}
	f.mu.Lock()
	f.latest[userID] = a
	f.mu.Unlock()
}

// Source returns an AudioSource view for one user.
func (f *BreathingFeed) Source(userID core.UserID) ports.AudioSource {
	return userBreathing{feed: f, userID: userID}
}

func (f *BreathingFeed) current(userID core.UserID) *ports.BreathingAnalysis {
	f.mu.RLock()
	a, ok := f.latest[userID]
	f.mu.RUnlock()
	if !ok || f.now().Sub(a.Timestamp) > f.maxAge {
		return nil
	}
	return &a
}

func (f *BreathingFeed) userFromTopic(topic string) (core.UserID, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != len(f.pattern) {
		return "", false
	}
	var user string
	for i, p := range f.pattern {
		switch {
		case p == "+":
			user = parts[i]
		case p != parts[i]:
			return "", false
		}
	}
	return core.UserID(user), user != ""
}

type userBreathing struct {
	feed   *BreathingFeed
	userID core.UserID
}

func (u userBreathing) CurrentBreathingAnalysis() *ports.BreathingAnalysis {
	return u.feed.current(u.userID)
}
