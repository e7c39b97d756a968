// Package config provides configuration management for ubv-transcribe.
// Configuration is loaded from environment variables (optionally seeded from a
// .env file) with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultDataDir     = ".ubv-transcribe"
	DefaultVideosDir   = "videos"
	DefaultTranscripts = "transcripts"
	DefaultTimezone    = "US/Pacific"
	DefaultFFmpegPath  = "ffmpeg"
	DefaultCleanup     = "on-success"
	DefaultS3Prefix    = "transcripts/"

	// Retry defaults
	DefaultMaxAttempts = 6
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 300 * time.Second

	// Credential environment variable names
	EnvProtectAddress   = "UNIFI_PROTECT_ADDRESS"
	EnvProtectUsername  = "UNIFI_PROTECT_USERNAME"
	EnvProtectPassword  = "UNIFI_PROTECT_PASSWORD"
	EnvProtectVerifySSL = "UNIFI_PROTECT_VERIFY_SSL"
	EnvProtectNotUnifi  = "UNIFI_PROTECT_NOT_UNIFI_OS"

	// Application environment variable names
	EnvLogLevel        = "UBV_LOG_LEVEL"
	EnvLogFormat       = "UBV_LOG_FORMAT"
	EnvDataDir         = "UBV_DATA_DIR"
	EnvVideosDir       = "UBV_VIDEOS_DIR"
	EnvTranscriptsDir  = "UBV_TRANSCRIPTS_DIR"
	EnvTimezone        = "UBV_TIMEZONE"
	EnvFFmpegPath      = "UBV_FFMPEG_PATH"
	EnvWhisperBin      = "UBV_WHISPER_BIN"
	EnvWhisperModel    = "UBV_WHISPER_MODEL"
	EnvWhisperLanguage = "UBV_WHISPER_LANGUAGE"
	EnvMaxAttempts     = "UBV_MAX_ATTEMPTS"
	EnvBaseDelay       = "UBV_BASE_DELAY"
	EnvMaxDelay        = "UBV_MAX_DELAY"
	EnvCleanup         = "UBV_CLEANUP"
	EnvS3Bucket        = "UBV_S3_BUCKET"
	EnvS3Prefix        = "UBV_S3_PREFIX"
	EnvS3Region        = "UBV_S3_REGION"
	EnvS3Profile       = "UBV_S3_PROFILE"
	EnvS3PathStyle     = "UBV_S3_PATH_STYLE"
	EnvS3Endpoint      = "UBV_S3_ENDPOINT"

	// Database filename
	DBFilename = "ledger.db"
)

// ErrMissingCredentials is returned by RequireCredentials when any of the
// UniFi Protect connection variables is unset.
var ErrMissingCredentials = errors.New("missing UniFi Protect credentials")

// EnvConfig reads configuration from environment variables. It is immutable
// after Load returns.
type EnvConfig struct {
	logLevel  string
	logFormat string
	dataDir   string

	protectAddress   string
	protectUsername  string
	protectPassword  string
	protectVerifySSL bool
	protectNotUnifi  bool

	videosDir      string
	transcriptsDir string
	timezone       string

	ffmpegPath      string
	whisperBin      string
	whisperModel    string
	whisperLanguage string

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	cleanup     string

	s3Bucket string
	s3Prefix string
	s3Region string
	// S3-compatible stores such as MinIO need an endpoint and path-style URLs.
	s3Profile   string
	s3PathStyle bool
	s3Endpoint  string

	envFile string
}

// Load reads envFile (when non-empty it must exist; when empty a .env in the
// working directory is used if present) and then builds an EnvConfig from the
// process environment. Variables already set in the environment win over the
// file.
func Load(envFile string) (*EnvConfig, error) {
	loaded := ""
	if envFile != "" {
		if _, err := os.Stat(envFile); err != nil {
			return nil, fmt.Errorf("env file %s: %w", envFile, err)
		}
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
		loaded = envFile
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
		loaded = ".env"
	}

	cfg, err := New()
	if err != nil {
		return nil, err
	}
	cfg.envFile = loaded
	return cfg, nil
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		logLevel:       getEnv(EnvLogLevel, DefaultLogLevel),
		logFormat:      getEnv(EnvLogFormat, DefaultLogFormat),
		dataDir:        getEnv(EnvDataDir, defaultDataDir()),
		videosDir:      getEnv(EnvVideosDir, DefaultVideosDir),
		transcriptsDir: getEnv(EnvTranscriptsDir, DefaultTranscripts),
		timezone:       getEnv(EnvTimezone, DefaultTimezone),
		ffmpegPath:     getEnv(EnvFFmpegPath, DefaultFFmpegPath),
		cleanup:        getEnv(EnvCleanup, DefaultCleanup),
		maxAttempts:    DefaultMaxAttempts,
		baseDelay:      DefaultBaseDelay,
		maxDelay:       DefaultMaxDelay,
		s3Prefix:       getEnv(EnvS3Prefix, DefaultS3Prefix),

		protectAddress:  strings.TrimRight(os.Getenv(EnvProtectAddress), "/"),
		protectUsername: os.Getenv(EnvProtectUsername),
		protectPassword: os.Getenv(EnvProtectPassword),

		whisperBin:      os.Getenv(EnvWhisperBin),
		whisperModel:    os.Getenv(EnvWhisperModel),
		whisperLanguage: os.Getenv(EnvWhisperLanguage),

		s3Bucket: os.Getenv(EnvS3Bucket),
		s3Region: os.Getenv(EnvS3Region),

		s3Profile:  os.Getenv(EnvS3Profile),
		s3Endpoint: strings.TrimRight(os.Getenv(EnvS3Endpoint), "/"),
	}

	var err error
	if cfg.protectVerifySSL, err = getBool(EnvProtectVerifySSL, false); err != nil {
		return nil, err
	}
	if cfg.protectNotUnifi, err = getBool(EnvProtectNotUnifi, false); err != nil {
		return nil, err
	}
	if cfg.s3PathStyle, err = getBool(EnvS3PathStyle, false); err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMaxAttempts, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", EnvMaxAttempts)
		}
		cfg.maxAttempts = n
	}
	if cfg.baseDelay, err = getDuration(EnvBaseDelay, DefaultBaseDelay); err != nil {
		return nil, err
	}
	if cfg.maxDelay, err = getDuration(EnvMaxDelay, DefaultMaxDelay); err != nil {
		return nil, err
	}

	switch cfg.cleanup {
	case "always", "on-success", "never":
	default:
		return nil, fmt.Errorf("invalid %s: %q (want always, on-success or never)", EnvCleanup, cfg.cleanup)
	}

	return cfg, nil
}

// RequireCredentials reports which UniFi Protect variables are missing.
func (c *EnvConfig) RequireCredentials() error {
	var missing []string
	if c.protectAddress == "" {
		missing = append(missing, EnvProtectAddress)
	}
	if c.protectUsername == "" {
		missing = append(missing, EnvProtectUsername)
	}
	if c.protectPassword == "" {
		missing = append(missing, EnvProtectPassword)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log handler format (text or json)
func (c *EnvConfig) LogFormat() string { return c.logFormat }

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string { return c.dataDir }

// DBPath returns the full path to the SQLite ledger file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// EnvFile returns the .env file that was loaded, if any.
func (c *EnvConfig) EnvFile() string { return c.envFile }

func (c *EnvConfig) ProtectAddress() string  { return c.protectAddress }
func (c *EnvConfig) ProtectUsername() string { return c.protectUsername }
func (c *EnvConfig) ProtectPassword() string { return c.protectPassword }
func (c *EnvConfig) ProtectVerifySSL() bool  { return c.protectVerifySSL }
func (c *EnvConfig) ProtectNotUnifiOS() bool { return c.protectNotUnifi }

func (c *EnvConfig) VideosDir() string      { return c.videosDir }
func (c *EnvConfig) TranscriptsDir() string { return c.transcriptsDir }
func (c *EnvConfig) Timezone() string       { return c.timezone }

func (c *EnvConfig) FFmpegPath() string      { return c.ffmpegPath }
func (c *EnvConfig) WhisperBin() string      { return c.whisperBin }
func (c *EnvConfig) WhisperModel() string    { return c.whisperModel }
func (c *EnvConfig) WhisperLanguage() string { return c.whisperLanguage }

func (c *EnvConfig) MaxAttempts() int         { return c.maxAttempts }
func (c *EnvConfig) BaseDelay() time.Duration { return c.baseDelay }
func (c *EnvConfig) MaxDelay() time.Duration  { return c.maxDelay }

// Cleanup returns the video cleanup policy name (always, on-success, never).
func (c *EnvConfig) Cleanup() string { return c.cleanup }

// S3Enabled reports whether transcript documents should be mirrored to S3.
func (c *EnvConfig) S3Enabled() bool  { return c.s3Bucket != "" }
func (c *EnvConfig) S3Bucket() string { return c.s3Bucket }
func (c *EnvConfig) S3Prefix() string { return c.s3Prefix }
func (c *EnvConfig) S3Region() string { return c.s3Region }

// S3Profile names the shared AWS config profile; empty uses the default chain.
func (c *EnvConfig) S3Profile() string  { return c.s3Profile }
func (c *EnvConfig) S3PathStyle() bool  { return c.s3PathStyle }
func (c *EnvConfig) S3Endpoint() string { return c.s3Endpoint }

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getDuration accepts Go durations ("1.5s") or plain seconds ("2").
func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
