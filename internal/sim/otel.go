package sim

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/linetrace/simulator/internal/agent"
)

const instrumentationName = "github.com/linetrace/simulator/internal/sim"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	tickDuration metric.Float64Histogram
	live         metric.Int64ObservableGauge
	spawned      metric.Int64Counter
	removed      metric.Int64Counter
	degenerate   metric.Int64Counter
}

func newMetrics(w *World) (*metrics, error) {
	m := meter()
	out := &metrics{}

	var err error
	out.tickDuration, err = m.Float64Histogram(
		"sim.tick.duration",
		metric.WithDescription("Wall time spent in one simulation step"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick duration histogram: %w", err)
	}

	out.live, err = m.Int64ObservableGauge(
		"sim.agents.live",
		metric.WithDescription("Vehicles currently in the world"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating live agents gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(out.live, int64(w.Stats().Live))
			return nil
		},
		out.live,
	)
	if err != nil {
		return nil, fmt.Errorf("registering live agents callback: %w", err)
	}

	out.spawned, err = m.Int64Counter(
		"sim.agents.spawned",
		metric.WithDescription("Vehicles spawned"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating spawned counter: %w", err)
	}

	out.removed, err = m.Int64Counter(
		"sim.agents.removed",
		metric.WithDescription("Vehicles removed, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating removed counter: %w", err)
	}

	out.degenerate, err = m.Int64Counter(
		"sim.sensor.degenerate",
		metric.WithDescription("Sensor hits whose error rate could not be derived"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating degenerate counter: %w", err)
	}

	return out, nil
}

func (m *metrics) recordRemoval(reason agent.RemovalReason) {
	m.removed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}
