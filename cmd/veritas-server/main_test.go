package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"veritas/internal/config"
)

func TestExitCodeForMigrationFailure(t *testing.T) {
	err := &migrationError{cause: errors.New("disk full")}
	require.Equal(t, 2, exitCodeFor(err))
}

func TestExitCodeForGenericFailure(t *testing.T) {
	require.Equal(t, 1, exitCodeFor(errors.New("boom")))
}

func TestMigrationErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := &migrationError{cause: cause}
	require.True(t, errors.Is(err, cause))
}

func TestLoadConfigDefaultsDataDirUnderWorkingDirectory(t *testing.T) {
	logger = zap.NewNop()
	origConfigPath, origDataDir := configPath, dataDir
	defer func() { configPath, dataDir = origConfigPath, origDataDir }()

	configPath = ""
	dataDir = ""
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadConfigHonorsDataDirFlagOverride(t *testing.T) {
	logger = zap.NewNop()
	origConfigPath, origDataDir := configPath, dataDir
	defer func() { configPath, dataDir = origConfigPath, origDataDir }()

	configPath = ""
	dataDir = "/tmp/veritas-test-override"
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "/tmp/veritas-test-override", cfg.DataDir)
}

func TestSourceLimitsFromOnlyIncludesConfiguredSources(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Academic.SemanticScholar.RateLimitPerSecond = 3
	cfg.Academic.SemanticScholar.Burst = 5

	limits := sourceLimitsFrom(cfg)
	require.Contains(t, limits, "semantic_scholar")
	require.Equal(t, 3.0, limits["semantic_scholar"].RPS)
	require.Equal(t, 5, limits["semantic_scholar"].Burst)
	require.NotContains(t, limits, "openalex")
}

func TestMaxInt(t *testing.T) {
	require.Equal(t, 5, maxInt(5, 1))
	require.Equal(t, 5, maxInt(1, 5))
}
