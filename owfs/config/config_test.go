package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/overwatch-fs/owfs"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	tempDir, err := os.MkdirTemp("", "overwatch-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	err = os.Chdir(tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), 1000, cfg.Watch.DetectionIntervalMs)
	assert.Equal(suite.T(), internal.DefaultDetectionInterval, cfg.Watch.Interval())
	assert.Equal(suite.T(), internal.DefaultMaxConcurrentScans, cfg.Watch.MaxConcurrentScans)
	assert.Equal(suite.T(), internal.DefaultErrorBuffer, cfg.Watch.ErrorBuffer)
	assert.Empty(suite.T(), cfg.Watch.IgnoreFile)
	assert.Empty(suite.T(), cfg.Watch.Include)
	assert.Empty(suite.T(), cfg.Watch.Exclude)
	assert.Equal(suite.T(), "info", cfg.Log.Level)
	assert.Equal(suite.T(), "console", cfg.Log.Format)
	assert.False(suite.T(), cfg.Metrics.Enabled)
	assert.Equal(suite.T(), internal.DefaultMetricsAddr, cfg.Metrics.Addr)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
watch:
  detectionIntervalMs: 250
  maxConcurrentScans: 2
  ignoreFile: ".owignore"
  include:
    - "**/*.go"
  exclude:
    - "**/vendor/**"
log:
  level: debug
  format: json
metrics:
  enabled: true
  addr: "127.0.0.1:9999"
`

	configFile := filepath.Join(suite.tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), 250*time.Millisecond, cfg.Watch.Interval())
	assert.Equal(suite.T(), 2, cfg.Watch.MaxConcurrentScans)
	assert.Equal(suite.T(), ".owignore", cfg.Watch.IgnoreFile)
	assert.Equal(suite.T(), []string{"**/*.go"}, cfg.Watch.Include)
	assert.Equal(suite.T(), []string{"**/vendor/**"}, cfg.Watch.Exclude)
	assert.Equal(suite.T(), "debug", cfg.Log.Level)
	assert.Equal(suite.T(), "json", cfg.Log.Format)
	assert.True(suite.T(), cfg.Metrics.Enabled)
	assert.Equal(suite.T(), "127.0.0.1:9999", cfg.Metrics.Addr)

	assert.Equal(suite.T(), *cfg, AppConfig)
}

func (suite *ConfigTestSuite) TestLoadConfigFromWorkingDirectory() {
	err := os.WriteFile(filepath.Join(suite.tempDir, "config.yaml"), []byte("watch:\n  detectionIntervalMs: 5000\n"), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 5*time.Second, cfg.Watch.Interval())
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsOutOfRangeInterval() {
	for _, ms := range []string{"100", "300001"} {
		configFile := filepath.Join(suite.tempDir, "bad-"+ms+".yaml")
		err := os.WriteFile(configFile, []byte("watch:\n  detectionIntervalMs: "+ms+"\n"), 0o644)
		require.NoError(suite.T(), err)

		cfg, err := LoadConfig(configFile)
		assert.ErrorIs(suite.T(), err, common.ErrIntervalOutOfRange, "interval %s should be rejected", ms)
		assert.Nil(suite.T(), cfg)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigEnvOverride() {
	suite.T().Setenv("OVERWATCH_WATCH_DETECTIONINTERVALMS", "750")
	suite.T().Setenv("OVERWATCH_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 750*time.Millisecond, cfg.Watch.Interval())
	assert.Equal(suite.T(), "warn", cfg.Log.Level)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	configFile := filepath.Join(suite.tempDir, "broken.yaml")
	err := os.WriteFile(configFile, []byte("watch: [unterminated"), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func TestWatchConfig_Interval(t *testing.T) {
	w := WatchConfig{DetectionIntervalMs: 200}
	assert.Equal(t, 200*time.Millisecond, w.Interval())
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Watch: WatchConfig{DetectionIntervalMs: 1000, MaxConcurrentScans: 1}}
	require.NoError(t, valid.Validate())

	noWorkers := valid
	noWorkers.Watch.MaxConcurrentScans = 0
	assert.Error(t, noWorkers.Validate())

	tooFast := valid
	tooFast.Watch.DetectionIntervalMs = 199
	assert.ErrorIs(t, tooFast.Validate(), common.ErrIntervalOutOfRange)

	negativeBuffer := valid
	negativeBuffer.Watch.ErrorBuffer = -1
	assert.Error(t, negativeBuffer.Validate())
}
