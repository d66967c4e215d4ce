package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "assessments_total",
			Help:      "Total number of risk assessments performed",
		},
		[]string{"level", "action"},
	)

	riskScoreHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskgate",
			Name:      "risk_score",
			Help:      "Risk score distribution for authentication events",
			Buckets:   []float64{0, 10, 25, 50, 75, 90, 100},
		},
		[]string{"action"},
	)

	riskFactorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "risk_factors_total",
			Help:      "Count of individual risk factors triggered",
		},
		[]string{"factor"},
	)

	trustRegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "trust_registrations_total",
			Help:      "Successful-auth registrations applied to the device tracker",
		},
		[]string{"outcome"},
	)
)
