package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/satishbabariya/recordkit/telemetry"
)

// Observer is called after every executed statement
type Observer func(ctx context.Context, info telemetry.QueryInfo)

// observed feeds statements to the statistics and then to each observer
type observed struct {
	stats  *telemetry.Stats
	client *Client
}

func (o observed) RecordQuery(ctx context.Context, info telemetry.QueryInfo) {
	o.stats.RecordQuery(ctx, info)
	for _, fn := range o.client.observers {
		fn(ctx, info)
	}
}

// LoggingObserver logs every statement at DEBUG and failures at ERROR
func LoggingObserver(logger *slog.Logger) Observer {
	return func(ctx context.Context, info telemetry.QueryInfo) {
		if info.Err != nil {
			logger.ErrorContext(ctx, "statement failed", "sql", info.SQL, "error", info.Err)
			return
		}
		logger.DebugContext(ctx, "statement", "sql", info.SQL, "args", len(info.Args), "duration", info.Duration)
	}
}

// TimingObserver reports the duration of each statement
func TimingObserver(onTiming func(sql string, duration time.Duration)) Observer {
	return func(_ context.Context, info telemetry.QueryInfo) {
		onTiming(info.SQL, info.Duration)
	}
}

// ErrorObserver reports failed statements
func ErrorObserver(onError func(sql string, err error)) Observer {
	return func(_ context.Context, info telemetry.QueryInfo) {
		if info.Err != nil {
			onError(info.SQL, info.Err)
		}
	}
}
