package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physiohub/progress-engine/internal/domain/progress"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "dev-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.True(t, cfg.UseInMemoryStore())
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, progress.PolicyThreshold, cfg.Engine.AchievementPolicy)
	assert.Equal(t, progress.StreakClockElapsed, cfg.Engine.StreakClock)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, "progress:events", cfg.Engine.EventChannel)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.True(t, cfg.Features.IsEnabled(FeatureNotifyAchievement, "learner-1"))
}

func TestLoad_FromEnvFile(t *testing.T) {
	// godotenv never overrides set variables; t.Setenv restores them afterwards.
	for _, k := range []string{"JWT_SECRET", "ENGINE_ACHIEVEMENT_POLICY", "DB_HOST", "DB_USER", "HTTP_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"JWT_SECRET=file-secret\n"+
			"ENGINE_ACHIEVEMENT_POLICY=exact\n"+
			"DB_HOST=db\nDB_USER=app\n"+
			"HTTP_ALLOWED_ORIGINS=https://a.example, https://b.example\n",
	), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, progress.PolicyExact, cfg.Engine.AchievementPolicy)
	assert.Equal(t, "postgres://app:@db:5432/progress?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
}

func TestLoad_AggregatesErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ENGINE_ACHIEVEMENT_POLICY", "sometimes")
	t.Setenv("ENGINE_STREAK_CLOCK", "lunar")
	t.Setenv("ENGINE_MAX_ATTEMPTS", "0")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "ENGINE_ACHIEVEMENT_POLICY")
	assert.Contains(t, msg, "ENGINE_STREAK_CLOCK")
	assert.Contains(t, msg, "JWT_SECRET is required")
	assert.Contains(t, msg, "ENGINE_MAX_ATTEMPTS must be at least 1")
	assert.Contains(t, msg, "LOG_FORMAT must be one of: json, console")
}

func TestLoad_MalformedValues(t *testing.T) {
	vars := map[string]string{
		"JWT_SECRET":                   "secret",
		"HTTP_PORT":                    "eighty",
		"APP_SHUTDOWN_TIMEOUT":         "soon",
		"DB_AUTO_MIGRATE":              "maybe",
		"APP_TIMEZONE":                 "Mars/Olympus",
		"FEATURE_NOTIFY_ACHIEVEMENT":   "150%",
		"FEATURE_NOTIFY_STREAK_BROKEN": "sometimes",
	}
	_, err := load(func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `HTTP_PORT: invalid integer "eighty"`)
	assert.Contains(t, msg, `APP_SHUTDOWN_TIMEOUT: invalid duration "soon"`)
	assert.Contains(t, msg, `DB_AUTO_MIGRATE: invalid boolean "maybe"`)
	assert.Contains(t, msg, "APP_TIMEZONE")
	assert.Contains(t, msg, "FEATURE_NOTIFY_ACHIEVEMENT")
	assert.Contains(t, msg, "FEATURE_NOTIFY_STREAK_BROKEN")
}

func TestLoad_RangeChecks(t *testing.T) {
	vars := map[string]string{
		"JWT_SECRET":   "secret",
		"HTTP_PORT":    "70000",
		"APP_ENV":      "qa",
		"DB_MAX_CONNS": "2",
		"DB_MIN_CONNS": "4",
	}
	_, err := load(func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "HTTP_PORT must be at most 65535")
	assert.Contains(t, msg, "APP_ENV must be one of: development, staging, production")
	assert.Contains(t, msg, "DB_MIN_CONNS must not exceed DB_MAX_CONNS")
}

func TestValidate_Production(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("ENGINE_DISTRIBUTED_LOCK", "true")
	t.Setenv("REDIS_DISABLED", "true")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be at least 32 bytes")
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
	assert.Contains(t, err.Error(), "ENGINE_DISTRIBUTED_LOCK requires Redis")
}

func TestFeatureFlags_EnvAndRollout(t *testing.T) {
	t.Setenv("FEATURE_NOTIFY_STREAK_BROKEN", "false")
	t.Setenv("FEATURE_NOTIFY_ACHIEVEMENT", "50%")

	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	ff := cfg.Features
	assert.False(t, ff.IsEnabled(FeatureNotifyStreakBroken, "learner-1"))
	assert.Equal(t, 50, ff.Features()[FeatureNotifyAchievement].Rollout)
	assert.True(t, ff.IsEnabled(FeatureNotifyAchievement, ""))

	// Bucketing is stable and splits a population.
	in := 0
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("learner-%d", i)
		first := ff.IsEnabled(FeatureNotifyAchievement, id)
		assert.Equal(t, first, ff.IsEnabled(FeatureNotifyAchievement, id))
		if first {
			in++
		}
	}
	assert.InDelta(t, 500, in, 150)

	ff.SetLearnerOverride("learner-1", FeatureNotifyStreakBroken, true)
	assert.True(t, ff.IsEnabled(FeatureNotifyStreakBroken, "learner-1"))
	assert.False(t, ff.Gate(FeatureNotifyStreakBroken)("learner-2"))

	require.NoError(t, ff.SetRollout(FeatureNotifyStreakBroken, 100))
	assert.True(t, ff.IsEnabled(FeatureNotifyStreakBroken, "learner-2"))

	var ffErr *FeatureFlagError
	require.ErrorAs(t, ff.SetRollout("unknown", 10), &ffErr)
	assert.Error(t, ff.SetRollout(FeatureNotifyAchievement, 101))
	assert.Equal(t, "FEATURE_EVENTS_FANOUT", EnvKey(FeatureEventsFanout))
}
