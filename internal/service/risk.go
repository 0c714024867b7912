package service

import (
	"fmt"
	"math"

	"github.com/cashstore/merchant-api/internal/models"
)

// Risk scoring constants. A request is flagged when its total score reaches
// FlagThreshold or any single triggered factor is high severity.
const (
	FlagThreshold = 70

	// AmountCeiling is the absolute requested amount above which the amount
	// rule always fires, regardless of merchant history.
	AmountCeiling = 10000.0

	// amountSpikeMultiplier triggers the amount rule when the request exceeds
	// this multiple of the merchant's historical average.
	amountSpikeMultiplier = 3.0

	// velocityWindowLimit is the number of requests by the same customer in
	// the trailing 24h (including this one) tolerated before flagging.
	velocityWindowLimit = 3

	// newAccountAgeDays marks accounts younger than this as high risk.
	newAccountAgeDays = 7
)

var severityWeights = map[models.RiskSeverity]int{
	models.RiskSeverityLow:    10,
	models.RiskSeverityMedium: 25,
	models.RiskSeverityHigh:   40,
}

// riskRule evaluates one fraud signal. Returns nil when the rule does not
// trigger. Rules are pure: all historical data arrives in the context.
type riskRule func(models.RiskInput, models.RiskContext) *models.RiskFactor

// riskRules is the fixed, ordered rule set applied to every request.
var riskRules = []riskRule{
	amountRule,
	velocityRule,
	patternRule,
	newCustomerRule,
	accountAgeRule,
	verificationRule,
}

// AssessRisk maps request attributes to a score, the triggered factors and a
// review flag. Deterministic and free of I/O; calling it twice on the same
// input yields identical output.
func AssessRisk(input models.RiskInput, riskCtx models.RiskContext) models.RiskAssessment {
	factors := make(models.RiskFactors, 0, len(riskRules))
	score := 0
	critical := false

	for _, rule := range riskRules {
		factor := rule(input, riskCtx)
		if factor == nil {
			continue
		}
		factor.Weight = severityWeights[factor.Severity]
		factors = append(factors, *factor)
		score += factor.Weight
		if factor.Severity == models.RiskSeverityHigh {
			critical = true
		}
	}

	if score > 100 {
		score = 100
	}

	return models.RiskAssessment{
		RiskScore:        score,
		RiskFactors:      factors,
		FlaggedForReview: score >= FlagThreshold || critical,
	}
}

func amountRule(input models.RiskInput, riskCtx models.RiskContext) *models.RiskFactor {
	overCeiling := input.RequestedAmount >= AmountCeiling
	overAverage := riskCtx.MerchantAvgAmount > 0 &&
		input.RequestedAmount > riskCtx.MerchantAvgAmount*amountSpikeMultiplier
	if !overCeiling && !overAverage {
		return nil
	}
	desc := fmt.Sprintf("requested amount %.2f far above merchant average %.2f", input.RequestedAmount, riskCtx.MerchantAvgAmount)
	if overCeiling {
		desc = fmt.Sprintf("requested amount %.2f exceeds ceiling %.2f", input.RequestedAmount, AmountCeiling)
	}
	return &models.RiskFactor{
		Type:        models.RiskFactorAmount,
		Severity:    models.RiskSeverityHigh,
		Description: desc,
	}
}

func velocityRule(input models.RiskInput, riskCtx models.RiskContext) *models.RiskFactor {
	if riskCtx.RecentRequestCount < velocityWindowLimit {
		return nil
	}
	return &models.RiskFactor{
		Type:        models.RiskFactorVelocity,
		Severity:    models.RiskSeverityMedium,
		Description: fmt.Sprintf("%d requests by customer within 24 hours", riskCtx.RecentRequestCount),
	}
}

func patternRule(input models.RiskInput, riskCtx models.RiskContext) *models.RiskFactor {
	if riskCtx.DuplicateOrderCount > 0 {
		return &models.RiskFactor{
			Type:        models.RiskFactorPattern,
			Severity:    models.RiskSeverityMedium,
			Description: "order already referenced by another cashback request",
		}
	}
	roundHundred := input.RequestedAmount > 0 && math.Mod(input.RequestedAmount, 100) == 0
	if roundHundred && input.RequestedAmount == input.OrderAmount {
		return &models.RiskFactor{
			Type:        models.RiskFactorPattern,
			Severity:    models.RiskSeverityMedium,
			Description: "round request amount equal to full order total",
		}
	}
	return nil
}

func newCustomerRule(input models.RiskInput, riskCtx models.RiskContext) *models.RiskFactor {
	if riskCtx.PriorApprovedCount > 0 {
		return nil
	}
	return &models.RiskFactor{
		Type:        models.RiskFactorAccount,
		Severity:    models.RiskSeverityLow,
		Description: "customer has no prior approved cashback history",
	}
}

func accountAgeRule(input models.RiskInput, riskCtx models.RiskContext) *models.RiskFactor {
	if riskCtx.CustomerAccountAge >= newAccountAgeDays {
		return nil
	}
	return &models.RiskFactor{
		Type:        models.RiskFactorAccount,
		Severity:    models.RiskSeverityHigh,
		Description: fmt.Sprintf("customer account is %d days old", riskCtx.CustomerAccountAge),
	}
}

func verificationRule(input models.RiskInput, riskCtx models.RiskContext) *models.RiskFactor {
	if riskCtx.CustomerVerified {
		return nil
	}
	return &models.RiskFactor{
		Type:        models.RiskFactorAccount,
		Severity:    models.RiskSeverityMedium,
		Description: "customer account is not verified",
	}
}
