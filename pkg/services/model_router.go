package services

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/metrics"
	"github.com/rotosaurio/iacandy/pkg/models"
)

// ModelRouterConfig holds the routing policy.
type ModelRouterConfig struct {
	// TableThreshold sends MODERATE questions touching at least this many
	// estimated tables to the advanced tier.
	TableThreshold int
	ForceAdvanced  bool
}

// ModelRouter maps a complexity profile to a model tier and counts the
// selections per tier.
type ModelRouter struct {
	config   ModelRouterConfig
	standard atomic.Int64
	advanced atomic.Int64
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewModelRouter creates a router. m may be nil.
func NewModelRouter(config ModelRouterConfig, m *metrics.Metrics, logger *zap.Logger) *ModelRouter {
	if config.TableThreshold < 1 {
		config.TableThreshold = 3
	}
	return &ModelRouter{
		config:  config,
		metrics: m,
		logger:  logger.Named("model-router"),
	}
}

// Select returns the tier for profile and records the selection.
func (r *ModelRouter) Select(profile models.ComplexityProfile) models.ModelTier {
	tier := r.route(profile)

	switch tier {
	case models.TierAdvanced:
		r.advanced.Add(1)
	default:
		r.standard.Add(1)
	}
	r.metrics.ObserveTier(string(tier))

	r.logger.Debug("Selected model tier",
		zap.String("tier", string(tier)),
		zap.String("level", string(profile.Level)),
		zap.Int("score", profile.Score),
		zap.Int("estimated_tables", profile.EstimatedTables))

	return tier
}

func (r *ModelRouter) route(profile models.ComplexityProfile) models.ModelTier {
	if r.config.ForceAdvanced {
		return models.TierAdvanced
	}
	switch profile.Level {
	case models.ComplexityComplex, models.ComplexityVeryComplex:
		return models.TierAdvanced
	case models.ComplexityModerate:
		if profile.EstimatedTables >= r.config.TableThreshold {
			return models.TierAdvanced
		}
		return models.TierStandard
	default:
		return models.TierStandard
	}
}

// UsageStats returns the number of selections per tier since start. Every
// tier is present, including those never selected.
func (r *ModelRouter) UsageStats() map[models.ModelTier]int64 {
	return map[models.ModelTier]int64{
		models.TierStandard: r.standard.Load(),
		models.TierAdvanced: r.advanced.Load(),
	}
}
