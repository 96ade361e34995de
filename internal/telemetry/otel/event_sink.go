package otel

import (
	"context"
	"fmt"
	"sort"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"identity-service/backend/internal/events"
)

const sinkScope = "identity.events"

// recordEmitter is the part of otellog.Logger the sink needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventSink returns a publisher that writes each event as an OTel log record through provider.
// A nil provider yields events.Noop.
func NewEventSink(provider *sdklog.LoggerProvider) events.Publisher {
	if provider == nil {
		return events.Noop{}
	}
	return newEventSink(provider.Logger(sinkScope))
}

func newEventSink(l recordEmitter) *eventSink {
	return &eventSink{logger: l}
}

type eventSink struct {
	logger recordEmitter
}

// Publish emits ev with subject and event_id attributes plus one attribute per payload key.
func (s *eventSink) Publish(ctx context.Context, ev events.Event) error {
	rec := otellog.Record{}
	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetEventName(ev.Subject)
	rec.SetBody(otellog.StringValue(ev.Subject))
	rec.AddAttributes(
		otellog.String("subject", ev.Subject),
		otellog.String("event_id", ev.ID),
	)
	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec.AddAttributes(otellog.KeyValue{Key: k, Value: logValue(ev.Payload[k])})
	}
	s.logger.Emit(ctx, rec)
	return nil
}

func logValue(v any) otellog.Value {
	switch x := v.(type) {
	case string:
		return otellog.StringValue(x)
	case bool:
		return otellog.BoolValue(x)
	case int:
		return otellog.IntValue(x)
	case int64:
		return otellog.Int64Value(x)
	case float64:
		return otellog.Float64Value(x)
	case time.Time:
		return otellog.StringValue(x.UTC().Format(time.RFC3339Nano))
	case []string:
		vals := make([]otellog.Value, len(x))
		for i, s := range x {
			vals[i] = otellog.StringValue(s)
		}
		return otellog.SliceValue(vals...)
	default:
		return otellog.StringValue(fmt.Sprint(x))
	}
}
