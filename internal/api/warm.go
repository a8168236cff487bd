package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/respiro/gateway/internal/cache"
	"github.com/respiro/gateway/internal/upstream"
)

// WarmCache fetches every dashboard resource from the orchestrator and
// stores it in the query cache. The background poller calls this so the
// common case is a cache hit.
func WarmCache(ctx context.Context, up *upstream.Client, qc *cache.QueryCache) {
	if qc == nil {
		return
	}

	warm := []struct {
		key       string
		ttl       time.Duration
		fetch     func(context.Context) (json.RawMessage, error)
		transform func(json.RawMessage) (json.RawMessage, error)
	}{
		{"status", statusTTL, up.Status, nil},
		{"forecast", forecastTTL, up.Forecast, nil},
		{"sensors", sensorsTTL, up.Sensors, augmentSensorPayload},
		{"logs", logsTTL, func(ctx context.Context) (json.RawMessage, error) {
			return up.Logs(ctx, defaultLogLimit)
		}, nil},
	}

	for _, res := range warm {
		if ctx.Err() != nil {
			return
		}
		data, err := res.fetch(ctx)
		if err == nil && res.transform != nil {
			data, err = res.transform(data)
		}
		if err != nil {
			// Failures here are routine while the orchestrator is down;
			// the per-request path reports them to clients.
			log.Printf("[poll] warming %s: %v", res.key, err)
			continue
		}
		qc.Set(res.key, data, res.ttl)
	}
}
