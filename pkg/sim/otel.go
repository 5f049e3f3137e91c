package sim

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "fcbridge/pkg/sim"

type instruments struct {
	steps          metric.Int64Counter
	ticks          metric.Int64Counter
	decodeFailures metric.Int64Counter
	bytesIn        metric.Int64Counter
	bytesOut       metric.Int64Counter
}

// newInstruments never fails: an instrument that cannot be created is left
// as a no-op so telemetry problems cannot stop the firmware.
func newInstruments(mp metric.MeterProvider) *instruments {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	counter := func(name, unit, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithUnit(unit), metric.WithDescription(desc))
		if err != nil {
			otel.Handle(err)
		}
		return c
	}
	return &instruments{
		steps:          counter("fcbridge.sim.steps", "{step}", "State packets processed"),
		ticks:          counter("fcbridge.sim.ticks", "{tick}", "Scheduler ticks dispatched"),
		decodeFailures: counter("fcbridge.sim.decode_failures", "{packet}", "Datagrams that failed to decode"),
		bytesIn:        counter("fcbridge.sim.bytes_in", "By", "Datagram bytes received"),
		bytesOut:       counter("fcbridge.sim.bytes_out", "By", "Datagram bytes sent"),
	}
}

func add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	if len(attrs) == 0 {
		c.Add(ctx, n)
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}
