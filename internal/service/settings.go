package service

import (
	"context"
	"errors"
	"kiosk-agent/internal/billing"
	"kiosk-agent/internal/model"
	"kiosk-agent/internal/repository"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const ratesCacheKey = "billing_rates"

// RatesProvider returns the pricing constants in effect right now.
type RatesProvider interface {
	Rates(ctx context.Context) billing.Rates
}

// SettingsProvider reads billing rates from system settings and caches them.
// Missing settings or backend failures fall back to the configured defaults.
type SettingsProvider struct {
	repo     repository.SettingsRepository
	defaults billing.Rates
	cache    *cache.Cache
	logger   *zap.Logger
}

// NewSettingsProvider creates a settings provider caching rates for ttl.
func NewSettingsProvider(repo repository.SettingsRepository, defaults billing.Rates, ttl time.Duration, logger *zap.Logger) *SettingsProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SettingsProvider{
		repo:     repo,
		defaults: defaults,
		cache:    cache.New(ttl, 2*ttl),
		logger:   logger,
	}
}

// Rates returns the current rates, refreshing them from the backend when the
// cached copy has expired.
func (p *SettingsProvider) Rates(ctx context.Context) billing.Rates {
	if cached, ok := p.cache.Get(ratesCacheKey); ok {
		return cached.(billing.Rates)
	}

	rates := p.defaults
	complete := true

	if rate, ok := p.lookup(ctx, model.SettingHourlyRate); ok {
		rates.HourlyRate = rate
	} else {
		complete = false
	}
	if minimum, ok := p.lookup(ctx, model.SettingMinimumBalance); ok {
		rates.MinimumBalance = minimum
	} else {
		complete = false
	}

	// Defaults are only served, never cached, so the next call retries the backend.
	if complete {
		p.cache.SetDefault(ratesCacheKey, rates)
	}
	return rates
}

// Invalidate drops the cached rates.
func (p *SettingsProvider) Invalidate() {
	p.cache.Delete(ratesCacheKey)
}

func (p *SettingsProvider) lookup(ctx context.Context, key string) (decimal.Decimal, bool) {
	amount, err := p.repo.GetSettingAmount(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrSettingNotFound) {
			p.logger.Warn("setting not found, using default", zap.String("key", key))
		} else {
			p.logger.Warn("failed to read setting, using default", zap.String("key", key), zap.Error(err))
		}
		return decimal.Decimal{}, false
	}
	if amount.IsNegative() {
		p.logger.Warn("ignoring negative setting", zap.String("key", key), zap.Stringer("amount", amount))
		return decimal.Decimal{}, false
	}
	return amount, true
}
