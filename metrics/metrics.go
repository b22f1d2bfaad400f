package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subshop",
		Name:      "orders_created_total",
		Help:      "Orders created, labeled by payment method.",
	}, []string{"method"})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subshop",
		Name:      "orders_cancelled_total",
		Help:      "Orders cancelled due to stock conflicts.",
	})

	PaymentsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subshop",
		Name:      "payments_finalized_total",
		Help:      "Payments moved to a terminal state, labeled by outcome.",
	}, []string{"outcome"})

	CallbacksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subshop",
		Name:      "payment_callbacks_total",
		Help:      "Provider callbacks received, labeled by caller type.",
	}, []string{"caller"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
