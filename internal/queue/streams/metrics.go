package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	publishedEvents   otelmetric.Int64Counter
	consumedEvents    otelmetric.Int64Counter
	droppedEntries    otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("quizrunner/queue/streams")
	var err error
	publishedEvents, err = meter.Int64Counter(
		"quiz_stream_published_total",
		otelmetric.WithDescription("Envelopes appended to Redis streams"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: quiz_stream_published_total: %v", err)
	}
	consumedEvents, err = meter.Int64Counter(
		"quiz_stream_consumed_total",
		otelmetric.WithDescription("Envelopes read from Redis streams by a consumer group"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: quiz_stream_consumed_total: %v", err)
	}
	droppedEntries, err = meter.Int64Counter(
		"quiz_stream_dropped_total",
		otelmetric.WithDescription("Undecodable stream entries acknowledged and discarded"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: quiz_stream_dropped_total: %v", err)
	}
}

func recordPublished(ctx context.Context, stream, eventType string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if publishedEvents == nil {
		return
	}
	publishedEvents.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("event_type", eventType),
	))
}

func recordConsumed(ctx context.Context, stream, eventType string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if consumedEvents == nil {
		return
	}
	consumedEvents.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("event_type", eventType),
	))
}

func recordDropped(ctx context.Context, stream string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if droppedEntries == nil {
		return
	}
	droppedEntries.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("stream", stream)))
}
