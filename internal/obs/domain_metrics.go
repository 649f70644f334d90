package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// OrderCreateTotal counts gateway order creation attempts by flow and result.
	OrderCreateTotal *prometheus.CounterVec
	// ReconcileTotal counts status reconciliations by source (pull, webhook, poller) and resulting status.
	ReconcileTotal *prometheus.CounterVec
	// TokenRefreshTotal counts credential exchanges against the identity endpoint.
	TokenRefreshTotal *prometheus.CounterVec
	// WebhookTotal counts inbound gateway webhooks by outcome.
	WebhookTotal *prometheus.CounterVec
	// BackfillTotal counts payment records fabricated during reconciliation.
	BackfillTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		OrderCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_create_total",
			Help:      "Count of gateway order creation outcomes.",
		}, []string{"flow", "result"})
		ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Count of payment status reconciliations by source and outcome.",
		}, []string{"source", "status"})
		TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Count of OAuth token exchanges by result.",
		}, []string{"result"})
		WebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_total",
			Help:      "Count of processed gateway webhooks by outcome.",
		}, []string{"result"})
		BackfillTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_backfill_total",
			Help:      "Number of payment records created lazily during reconciliation.",
		})

		registerDomainCollector(reg, OrderCreateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrderCreateTotal = v
			}
		})
		registerDomainCollector(reg, ReconcileTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileTotal = v
			}
		})
		registerDomainCollector(reg, TokenRefreshTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TokenRefreshTotal = v
			}
		})
		registerDomainCollector(reg, WebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookTotal = v
			}
		})
		registerDomainCollector(reg, BackfillTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				BackfillTotal = v
			}
		})
	})
}

func registerDomainCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
