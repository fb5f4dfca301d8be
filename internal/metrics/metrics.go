package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeEligible    = "eligible"
	OutcomeNotEligible = "not_eligible"
	OutcomeError       = "error"
)

var (
	LicensesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_issued_total",
		Help: "Number of licenses issued.",
	})

	Validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_validations_total",
		Help: "License validation checks by outcome.",
	}, []string{"outcome"})

	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_redemptions_total",
		Help: "License redemption attempts by outcome.",
	}, []string{"outcome"})
)
