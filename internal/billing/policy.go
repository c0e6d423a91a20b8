// Package billing holds the pure session pricing rules.
//
// Costs are always recomputed from the total elapsed time of a session, never
// accumulated tick by tick, so the same elapsed minutes always price the same.
package billing

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Defaults used when neither configuration nor system settings override them.
const (
	DefaultBillingInterval = 30
	DefaultMinimumFee      = 30
	DefaultHourlyRate      = 60
)

// Policy names accepted by NewPolicy.
const (
	PolicyTiered   = "tiered"
	PolicyProRated = "prorated"
)

var (
	two         = decimal.NewFromInt(2)
	minutesHour = decimal.NewFromInt(60)
)

// Rates are the pricing constants a policy is evaluated against.
type Rates struct {
	MinimumFee      decimal.Decimal
	HourlyRate      decimal.Decimal
	BillingInterval int
	// MinimumBalance is the balance a customer needs before a session may start.
	// It is never lower than MinimumFee.
	MinimumBalance decimal.Decimal
}

// DefaultRates returns the stock café pricing.
func DefaultRates() Rates {
	return Rates{
		MinimumFee:      decimal.NewFromInt(DefaultMinimumFee),
		HourlyRate:      decimal.NewFromInt(DefaultHourlyRate),
		BillingInterval: DefaultBillingInterval,
		MinimumBalance:  decimal.NewFromInt(DefaultMinimumFee),
	}
}

// RequiredBalance is the balance needed to start a session under these rates.
func (r Rates) RequiredBalance() decimal.Decimal {
	return decimal.Max(r.MinimumFee, r.MinimumBalance)
}

// WithHourlyRate returns a copy priced at the given hourly rate.
func (r Rates) WithHourlyRate(rate decimal.Decimal) Rates {
	r.HourlyRate = rate
	return r
}

// Validate rejects rates no policy can price with.
func (r Rates) Validate() error {
	if r.BillingInterval <= 0 {
		return fmt.Errorf("billing interval must be positive, got %d", r.BillingInterval)
	}
	if r.MinimumFee.IsNegative() {
		return fmt.Errorf("minimum fee cannot be negative")
	}
	if r.HourlyRate.IsNegative() {
		return fmt.Errorf("hourly rate cannot be negative")
	}
	return nil
}

// Policy prices an elapsed session duration.
type Policy interface {
	Name() string
	Cost(rates Rates, elapsedMinutes int) decimal.Decimal
}

// NewPolicy returns the named policy.
func NewPolicy(name string) (Policy, error) {
	switch name {
	case "", PolicyTiered:
		return TieredPolicy{}, nil
	case PolicyProRated:
		return ProRatedPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown billing policy %q", name)
	}
}

// TieredPolicy charges the minimum fee for the first interval, then half the
// hourly rate for every started interval.
type TieredPolicy struct{}

// Name implements Policy.
func (TieredPolicy) Name() string { return PolicyTiered }

// Cost implements Policy.
func (TieredPolicy) Cost(rates Rates, elapsedMinutes int) decimal.Decimal {
	if elapsedMinutes <= rates.BillingInterval {
		return rates.MinimumFee.Round(2)
	}

	intervals := (elapsedMinutes + rates.BillingInterval - 1) / rates.BillingInterval
	cost := decimal.NewFromInt(int64(intervals)).Mul(rates.HourlyRate.Div(two))

	return decimal.Max(rates.MinimumFee, cost).Round(2)
}

// ProRatedPolicy charges the hourly rate per minute, never less than the minimum fee.
type ProRatedPolicy struct{}

// Name implements Policy.
func (ProRatedPolicy) Name() string { return PolicyProRated }

// Cost implements Policy.
func (ProRatedPolicy) Cost(rates Rates, elapsedMinutes int) decimal.Decimal {
	if elapsedMinutes < 0 {
		elapsedMinutes = 0
	}
	cost := rates.HourlyRate.Mul(decimal.NewFromInt(int64(elapsedMinutes))).Div(minutesHour)
	return decimal.Max(rates.MinimumFee, cost).Round(2)
}

// ElapsedMinutes returns the started minutes between start and now, rounded up.
func ElapsedMinutes(start, now time.Time) int {
	elapsed := now.Sub(start)
	if elapsed <= 0 {
		return 0
	}
	return int(math.Ceil(elapsed.Minutes()))
}
