package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles with gradual rollout by identity.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	identityOverrides map[string]map[string]bool // identity -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Identities are assigned based on hash of the identity string
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	Identity string // session e-mail or service name
	IsAdmin  bool
}

// Predefined feature flag names.
const (
	// Trusted services may push pre-computed rosters.
	FeatureRosterImport = "roster.import"

	// A probabilidad_riesgo column in the sheet overrides the risk model.
	FeatureSuppliedRisk = "analytics.supplied_risk"

	// Parents and students see recommendations rewritten for their role.
	FeatureRoleAdaptedText = "presenter.role_adapted_text"
)

// LoadFeatureFlags loads defaults and applies FEATURE_* environment overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:          make(map[string]*Feature),
		identityOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureRosterImport] = &Feature{
		Name:           FeatureRosterImport,
		Description:    "Accept pre-computed rosters from trusted services",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSuppliedRisk] = &Feature{
		Name:           FeatureSuppliedRisk,
		Description:    "Use the sheet's risk column instead of the model",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRoleAdaptedText] = &Feature{
		Name:           FeatureRoleAdaptedText,
		Description:    "Rewrite recommendations for parents and students",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment accepts a bool or a 0-100 rollout percentage,
// e.g. FEATURE_ROSTER_IMPORT=false or FEATURE_PRESENTER_ROLE_ADAPTED_TEXT=25.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled evaluates a flag. A nil ctx evaluates the global switch only.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.Identity != "" {
		if overrides, ok := ff.identityOverrides[ctx.Identity]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.Identity != "" {
		return isInRollout(ctx.Identity, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout buckets an identity deterministically into 0-99.
func isInRollout(identity, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(strings.ToLower(identity)))
	return int(h.Sum32()%100) < percent
}

// SetIdentityOverride forces a flag for one identity.
func (ff *FeatureFlags) SetIdentityOverride(identity, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.identityOverrides[identity]; !ok {
		ff.identityOverrides[identity] = make(map[string]bool)
	}
	ff.identityOverrides[identity][featureName] = enabled
}

// Set toggles a flag globally.
func (ff *FeatureFlags) Set(featureName string, enabled bool, rolloutPercent int) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		feature = &Feature{Name: featureName}
		ff.features[featureName] = feature
	}
	feature.Enabled = enabled
	feature.RolloutPercent = rolloutPercent
}
