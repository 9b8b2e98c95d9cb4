package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPresence(t *testing.T) {
	cases := map[string]Status{
		"online":    StatusOnline,
		"idle":      StatusOnline,
		"dnd":       StatusOnline,
		"invisible": StatusOnline,
		"offline":   StatusOffline,
		"OFFLINE":   StatusOffline,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ClassifyPresence(raw), raw)
	}
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusUnknown, ParseStatus(""))
	assert.Equal(t, StatusUnknown, ParseStatus("unknown"))
	assert.Equal(t, StatusOffline, ParseStatus("offline"))
	assert.Equal(t, StatusOnline, ParseStatus("online"))
	assert.Equal(t, StatusOnline, ParseStatus("idle"))
}

func TestNewStatsRecordBaselines(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	rec := NewStatsRecord(StatusOnline, now)
	assert.Equal(t, int64(1), rec.OnlineTime)
	assert.Equal(t, int64(0), rec.OfflineTime)
	assert.Equal(t, StatusOnline, rec.LastStatus)
	assert.True(t, rec.LastCheck.Equal(now))

	rec = NewStatsRecord(StatusOffline, now)
	assert.Equal(t, int64(0), rec.OnlineTime)
	assert.Equal(t, int64(1), rec.OfflineTime)
	assert.Equal(t, int64(1), rec.Total())
}

func TestObserveTransitions(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	rec := NewStatsRecord(StatusOnline, now)

	for i := 1; i <= 3; i++ {
		assert.False(t, rec.Observe(StatusOnline, now.Add(time.Duration(i)*time.Minute)))
	}
	assert.Equal(t, int64(4), rec.Total())

	assert.True(t, rec.Observe(StatusOffline, now.Add(5*time.Minute)))
	assert.Equal(t, StatusOffline, rec.LastStatus)
	assert.Equal(t, int64(1), rec.OfflineTime)

	assert.True(t, rec.Observe(StatusOnline, now.Add(6*time.Minute)))
	assert.Equal(t, StatusOnline, rec.LastStatus)
	assert.True(t, rec.LastCheck.Equal(now.Add(6*time.Minute)))
}

func TestObserveFromUnknownIsSilent(t *testing.T) {
	rec := &StatsRecord{OnlineTime: 2}
	assert.False(t, rec.Observe(StatusOffline, time.Now()))
	assert.Equal(t, StatusOffline, rec.LastStatus)
	assert.Equal(t, int64(3), rec.Total())
}

func TestUptimePercentage(t *testing.T) {
	assert.Equal(t, 0.0, UptimePercentage(0, 0))
	assert.Equal(t, 50.0, UptimePercentage(1, 1))
	assert.Equal(t, 75.0, (&StatsRecord{OnlineTime: 3, OfflineTime: 1}).UptimePercentage())

	var missing *StatsRecord
	assert.Equal(t, 0.0, missing.UptimePercentage())
	assert.Equal(t, int64(0), missing.Total())
}

func TestStatsRecordJSON(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 30, 0, 0, time.UTC)
	data, err := json.Marshal(NewStatsRecord(StatusOffline, now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"online_time":0,"offline_time":1,"last_status":"offline","last_check":"2026-10-18T12:30:00Z"}`, string(data))
}

func TestStatsRecordLegacyJSON(t *testing.T) {
	var rec StatsRecord
	err := json.Unmarshal([]byte(`{"online_time":12,"offline_time":3,"last_status":"dnd","last_check":"2024-05-01T10:11:12.345678"}`), &rec)
	require.NoError(t, err)

	assert.Equal(t, StatusOnline, rec.LastStatus)
	assert.Equal(t, int64(15), rec.Total())
	assert.Equal(t, 2024, rec.LastCheck.Year())
	assert.Equal(t, 345678000, rec.LastCheck.Nanosecond())
}

func TestLegacyTimestampKeptUntilObserved(t *testing.T) {
	var rec StatsRecord
	err := json.Unmarshal([]byte(`{"online_time":1,"offline_time":0,"last_status":"online","last_check":"2024-05-01T10:11:12.345678"}`), &rec)
	require.NoError(t, err)

	data, err := json.Marshal(&rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_check":"2024-05-01T10:11:12.345678"`)

	rec.Observe(StatusOnline, time.Date(2026, 10, 18, 12, 30, 0, 0, time.UTC))
	data, err = json.Marshal(&rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_check":"2026-10-18T12:30:00Z"`)
}

func TestTimestampRejectsGarbage(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
}
