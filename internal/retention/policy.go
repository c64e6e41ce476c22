// Package retention implements the retention policy engine: tier
// classification, policy resolution, and the batched deletion runs that
// enforce effective policies against the log store.
package retention

import (
	"github.com/just-logging/just-logging/internal/db/models"
)

// tierLevels maps each tier to the levels it governs.
var tierLevels = map[models.Tier][]models.Level{
	models.TierHigh:   {models.LevelFatal, models.LevelError},
	models.TierMedium: {models.LevelWarn, models.LevelInfo},
	models.TierLow:    {models.LevelDebug, models.LevelTrace},
}

// TierForLevel classifies a log level into its retention tier. Unknown
// levels classify as high so unrecognised severities get the longest
// retention rather than the shortest.
func TierForLevel(level models.Level) models.Tier {
	switch level {
	case models.LevelFatal, models.LevelError:
		return models.TierHigh
	case models.LevelWarn, models.LevelInfo:
		return models.TierMedium
	case models.LevelDebug, models.LevelTrace:
		return models.TierLow
	}
	return models.TierHigh
}

// LevelsForTier returns the levels a tier governs.
func LevelsForTier(tier models.Tier) []models.Level {
	return tierLevels[tier]
}

// PolicySource records which layer an effective policy came from.
type PolicySource string

const (
	SourceApp         PolicySource = "app"
	SourceEnvironment PolicySource = "environment"
)

// EffectivePolicy is the policy that actually applies to one (app, tier)
// pair after resolution.
type EffectivePolicy struct {
	Source         PolicySource
	PolicyID       int64
	Type           models.RetentionType
	RetentionDays  *int
	RetentionCount *int
}

// Resolver answers "which policy applies to this app and tier". Resolution
// order: an enabled per-app policy wins, then an enabled policy for the
// app's environment, then nothing — a disabled per-app policy does not
// shadow the environment default.
type Resolver struct {
	appPolicies map[int64]map[models.Tier]*models.RetentionPolicy
	envPolicies map[models.Environment]map[models.Tier]*models.EnvironmentRetentionPolicy
}

// NewResolver indexes the given policy sets for lookup.
func NewResolver(appPolicies []*models.RetentionPolicy, envPolicies []*models.EnvironmentRetentionPolicy) *Resolver {
	r := &Resolver{
		appPolicies: map[int64]map[models.Tier]*models.RetentionPolicy{},
		envPolicies: map[models.Environment]map[models.Tier]*models.EnvironmentRetentionPolicy{},
	}
	for _, p := range appPolicies {
		byTier := r.appPolicies[p.AppID]
		if byTier == nil {
			byTier = map[models.Tier]*models.RetentionPolicy{}
			r.appPolicies[p.AppID] = byTier
		}
		byTier[p.PriorityTier] = p
	}
	for _, p := range envPolicies {
		byTier := r.envPolicies[p.Environment]
		if byTier == nil {
			byTier = map[models.Tier]*models.EnvironmentRetentionPolicy{}
			r.envPolicies[p.Environment] = byTier
		}
		byTier[p.PriorityTier] = p
	}
	return r
}

// Effective returns the policy applying to (app, tier), or nil when no
// enabled policy covers it.
func (r *Resolver) Effective(app *models.App, tier models.Tier) *EffectivePolicy {
	if p := r.appPolicies[app.ID][tier]; p != nil && p.Enabled {
		return &EffectivePolicy{
			Source:         SourceApp,
			PolicyID:       p.ID,
			Type:           p.RetentionType,
			RetentionDays:  p.RetentionDays,
			RetentionCount: p.RetentionCount,
		}
	}
	if p := r.envPolicies[app.Environment][tier]; p != nil && p.Enabled {
		return &EffectivePolicy{
			Source:         SourceEnvironment,
			PolicyID:       p.ID,
			Type:           p.RetentionType,
			RetentionDays:  p.RetentionDays,
			RetentionCount: p.RetentionCount,
		}
	}
	return nil
}
