package monitoring

import (
	"context"

	"signalhub/internal/core/domain"
	"signalhub/internal/core/ports"
)

// instrumentedBus counts successful publishes on the fan-out bus.
type instrumentedBus struct {
	ports.FanoutBus
	metrics *Metrics
}

// InstrumentBus wraps a fan-out bus with publish metrics.
func InstrumentBus(bus ports.FanoutBus, metrics *Metrics) ports.FanoutBus {
	if metrics == nil {
		return bus
	}
	return &instrumentedBus{FanoutBus: bus, metrics: metrics}
}

func (b *instrumentedBus) Publish(ctx context.Context, msg *domain.SignalingMessage) error {
	err := b.FanoutBus.Publish(ctx, msg)
	if err == nil {
		b.metrics.FanoutPublished.Inc()
	}
	return err
}
