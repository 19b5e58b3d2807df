// Package metrics records pipeline and alerting metrics in Prometheus.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// Recorder holds the application's collectors.
type Recorder struct {
	discovered     *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	alertsSent     *prometheus.CounterVec
	smsSent        *prometheus.CounterVec
	smsFailures    *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		discovered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmagg_discovered_contracts_total",
			Help: "Contracts normalized during discovery, by market.",
		}, []string{"market"}),
		sourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmagg_source_failures_total",
			Help: "Source call failures by market and kind.",
		}, []string{"market", "kind"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmagg_price_refreshes_total",
			Help: "Per-contract refresh outcomes.",
		}, []string{"market", "outcome"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pmagg_contract_price",
			Help: "Latest refreshed probability of a followed contract.",
		}, []string{"market", "contract"}),
		alertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmagg_big_move_alerts_total",
			Help: "Big-move alerts fired, by category.",
		}, []string{"category"}),
		smsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmagg_sms_sent_total",
			Help: "SMS messages delivered, by kind.",
		}, []string{"kind"}),
		smsFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pmagg_sms_failures_total",
			Help: "SMS deliveries that failed or were throttled, by kind.",
		}, []string{"kind"}),
		passDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pmagg_pass_duration_seconds",
			Help:    "Duration of discovery, refresh and digest passes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pass"}),
	}
}

func (r *Recorder) Discovered(m domain.Market, n int) {
	if r == nil {
		return
	}
	r.discovered.WithLabelValues(m.String()).Add(float64(n))
}

// SourceFailure classifies err by sentinel and counts it.
func (r *Recorder) SourceFailure(m domain.Market, err error) {
	if r == nil {
		return
	}
	r.sourceFailures.WithLabelValues(m.String(), ErrorKind(err)).Inc()
}

func (r *Recorder) Refresh(m domain.Market, outcome string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(m.String(), outcome).Inc()
}

func (r *Recorder) Price(key domain.ContractKey, price float64) {
	if r == nil {
		return
	}
	r.lastPrice.WithLabelValues(key.Market.String(), key.ExternalID).Set(price)
}

func (r *Recorder) AlertFired(category string) {
	if r == nil {
		return
	}
	r.alertsSent.WithLabelValues(category).Inc()
}

func (r *Recorder) SMS(kind string, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.smsFailures.WithLabelValues(kind).Inc()
		return
	}
	r.smsSent.WithLabelValues(kind).Inc()
}

func (r *Recorder) Pass(name string, d time.Duration) {
	if r == nil {
		return
	}
	r.passDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ErrorKind maps an error to a short label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, domain.ErrUnauthorized):
		return "auth"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrSourceUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrMalformedRecord):
		return "malformed"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}
