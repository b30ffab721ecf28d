package config

import (
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Известные флаги.
const (
	FeatureNotifyAchievement  = "notify.achievement"
	FeatureNotifyStreakBroken = "notify.streak_broken"

	// Рассылка событий другим инстансам через Redis pub/sub.
	FeatureEventsFanout = "events.fanout"
)

// Feature is one toggle. Rollout is the share of learners, 0 to 100, that see
// it; learners are bucketed by a hash of feature name and learner id.
type Feature struct {
	Name        string
	Description string
	Rollout     int
}

// Enabled reports whether anyone gets the feature.
func (f Feature) Enabled() bool { return f.Rollout > 0 }

// FeatureFlags is safe for concurrent use. Per-learner overrides beat the
// rollout.
type FeatureFlags struct {
	mu        sync.RWMutex
	features  map[string]Feature
	overrides map[string]map[string]bool // learner -> feature -> on
}

// NewFeatureFlags returns every known flag fully rolled out.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:  make(map[string]Feature),
		overrides: make(map[string]map[string]bool),
	}
	for _, f := range []Feature{
		{FeatureNotifyAchievement, "Notify learners about unlocked achievements", 100},
		{FeatureNotifyStreakBroken, "Remind learners after a broken streak", 100},
		{FeatureEventsFanout, "Publish progress events to other instances", 100},
	} {
		ff.features[f.Name] = f
	}
	return ff
}

// EnvKey is the variable that configures a flag:
// "notify.streak_broken" -> "FEATURE_NOTIFY_STREAK_BROKEN".
func EnvKey(feature string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(feature, ".", "_"))
}

// apply reads FEATURE_* variables. A value is a boolean or a rollout such as
// "25%".
func (ff *FeatureFlags) apply(e *env) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	for _, name := range slices.Sorted(maps.Keys(ff.features)) {
		key := EnvKey(name)
		v, ok := e.raw(key)
		if !ok {
			continue
		}
		rollout, err := parseRollout(v)
		if err != nil {
			e.fail(key, "%v", err)
			continue
		}
		f := ff.features[name]
		f.Rollout = rollout
		ff.features[name] = f
	}
}

func parseRollout(v string) (int, error) {
	if pct, ok := strings.CutSuffix(v, "%"); ok {
		p, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil || p < 0 || p > 100 {
			return 0, fmt.Errorf("rollout %q must be 0%%-100%%", v)
		}
		return p, nil
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		return 0, fmt.Errorf("want a boolean or a percentage, got %q", v)
	}
	if on {
		return 100, nil
	}
	return 0, nil
}

// IsEnabled decides the feature for one learner. An empty learnerID asks
// whether the feature is on at all.
func (ff *FeatureFlags) IsEnabled(feature, learnerID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[learnerID][feature]; ok && learnerID != "" {
		return on
	}
	f, ok := ff.features[feature]
	switch {
	case !ok || f.Rollout <= 0:
		return false
	case f.Rollout >= 100 || learnerID == "":
		return true
	}
	return bucket(feature, learnerID) < f.Rollout
}

// Gate binds IsEnabled to one feature.
func (ff *FeatureFlags) Gate(feature string) func(learnerID string) bool {
	return func(learnerID string) bool { return ff.IsEnabled(feature, learnerID) }
}

// bucket maps a learner to 0..99, stable per feature.
func bucket(feature, learnerID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	_, _ = h.Write([]byte(learnerID))
	return int(h.Sum32() % 100)
}

// SetLearnerOverride forces a feature on or off for one learner.
func (ff *FeatureFlags) SetLearnerOverride(learnerID, feature string, on bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.overrides[learnerID] == nil {
		ff.overrides[learnerID] = make(map[string]bool)
	}
	ff.overrides[learnerID][feature] = on
}

// SetRollout changes a feature's rollout at runtime.
func (ff *FeatureFlags) SetRollout(feature string, percent int) error {
	if percent < 0 || percent > 100 {
		return &FeatureFlagError{Feature: feature, Message: "rollout must be 0-100"}
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[feature]
	if !ok {
		return &FeatureFlagError{Feature: feature, Message: "unknown feature"}
	}
	f.Rollout = percent
	ff.features[feature] = f
	return nil
}

// Features returns a snapshot of every flag.
func (ff *FeatureFlags) Features() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return maps.Clone(ff.features)
}

type FeatureFlagError struct {
	Feature string
	Message string
}

func (e *FeatureFlagError) Error() string {
	return fmt.Sprintf("feature %s: %s", e.Feature, e.Message)
}
