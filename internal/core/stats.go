package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// StatsRecord holds the cumulative sampling counters of one account in one tenant.
type StatsRecord struct {
	OnlineTime  int64     `json:"online_time"`
	OfflineTime int64     `json:"offline_time"`
	LastStatus  Status    `json:"last_status"`
	LastCheck   Timestamp `json:"last_check"`
}

// NewStatsRecord baselines a record from the first successful sample of an
// account. The first observation is counted once and is never a transition.
func NewStatsRecord(status Status, now time.Time) *StatsRecord {
	r := &StatsRecord{LastStatus: status}
	r.count(status)
	r.LastCheck = NewTimestamp(now)
	return r
}

// Observe counts one more sample and reports whether it is a transition,
// i.e. the classified status differs from the previously known one.
// A record whose last status is Unknown takes the new status silently.
func (r *StatsRecord) Observe(status Status, now time.Time) bool {
	r.count(status)
	r.LastCheck = NewTimestamp(now)

	if status == r.LastStatus {
		return false
	}
	previous := r.LastStatus
	r.LastStatus = status
	return previous != StatusUnknown
}

func (r *StatsRecord) count(status Status) {
	if status.IsOnline() {
		r.OnlineTime++
	} else {
		r.OfflineTime++
	}
}

func (r *StatsRecord) Total() int64 {
	if r == nil {
		return 0
	}
	return r.OnlineTime + r.OfflineTime
}

// UptimePercentage is online/(online+offline)*100, or 0 with no samples.
func (r *StatsRecord) UptimePercentage() float64 {
	if r == nil {
		return 0.0
	}
	return UptimePercentage(r.OnlineTime, r.OfflineTime)
}

func UptimePercentage(online, offline int64) float64 {
	total := online + offline
	if total <= 0 {
		return 0.0
	}
	return float64(online) / float64(total) * 100
}

func (r *StatsRecord) validate() error {
	if r.OnlineTime < 0 || r.OfflineTime < 0 {
		return fmt.Errorf("negative counters (online=%d offline=%d)", r.OnlineTime, r.OfflineTime)
	}
	return nil
}

// Timestamp is the last_check value. It is written as RFC 3339 and also
// accepts the naive ISO 8601 form produced by older documents. A naive value
// keeps its original text until it is replaced.
type Timestamp struct {
	time.Time
	raw string
}

var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func ParseTimestamp(s string) (Timestamp, error) {
	if s == "" {
		return Timestamp{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewTimestamp(t), nil
	}
	for _, layout := range legacyLayouts[1:] {
		if t, err := time.Parse(layout, s); err == nil {
			ts := NewTimestamp(t)
			ts.raw = s
			return ts, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	if t.raw != "" {
		return t.raw
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
