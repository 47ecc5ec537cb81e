package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CallbacksCreatedTotal counts accepted callback requests.
	CallbacksCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "callbacks_created_total",
		Help: "Number of callback requests accepted.",
	})
	// ReviewsSubmittedTotal counts public review submissions stored.
	ReviewsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reviews_submitted_total",
		Help: "Number of reviews submitted.",
	})
	// TicketEventsTotal counts timeline events by type.
	TicketEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_events_total",
		Help: "Number of ticket timeline events recorded.",
	}, []string{"type"})
	// PaymentVerificationsTotal counts signature verification outcomes.
	PaymentVerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Number of payment signature verifications by result.",
	}, []string{"result"})
	// RateLimitRejectionsTotal counts requests rejected by rate limiting.
	RateLimitRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Number of requests rejected by rate limiting.",
	}, []string{"route"})
)

// Register registers all collectors on the default registry.
func Register() {
	prometheus.MustRegister(
		CallbacksCreatedTotal,
		ReviewsSubmittedTotal,
		TicketEventsTotal,
		PaymentVerificationsTotal,
		RateLimitRejectionsTotal,
	)
}

// Handler exposes the prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
