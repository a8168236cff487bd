package api

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// sensorReferenceCount is the station count treated as full coverage when
// scoring completeness.
const sensorReferenceCount = 10

// augmentSensorPayload adds a data_quality block to the sensor payload:
// completeness (station count capped at the reference count, divided by
// it) and age_hours (hours since the most recent station timestamp, zero
// when no timestamp is present).
func augmentSensorPayload(raw json.RawMessage) (json.RawMessage, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parsing sensor payload: %w", err)
	}

	stations, _ := payload["stations"].([]any)

	count := len(stations)
	if count > sensorReferenceCount {
		count = sensorReferenceCount
	}
	completeness := float64(count) / float64(sensorReferenceCount)

	ageHours := 0.0
	if newest, ok := newestTimestamp(stations); ok {
		ageHours = time.Since(newest).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		// Two decimals is plenty for a freshness badge.
		ageHours = math.Round(ageHours*100) / 100
	}

	payload["data_quality"] = map[string]any{
		"completeness": completeness,
		"age_hours":    ageHours,
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding sensor payload: %w", err)
	}
	return out, nil
}

func newestTimestamp(stations []any) (time.Time, bool) {
	var newest time.Time
	found := false
	for _, s := range stations {
		station, ok := s.(map[string]any)
		if !ok {
			continue
		}
		ts, ok := station["timestamp"].(string)
		if !ok || ts == "" {
			continue
		}
		t, err := parseTimestamp(ts)
		if err != nil {
			continue
		}
		if !found || t.After(newest) {
			newest = t
			found = true
		}
	}
	return newest, found
}

// parseTimestamp accepts RFC3339 and the orchestrator's bare
// "2006-01-02T15:04:05" form (assumed UTC).
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}
