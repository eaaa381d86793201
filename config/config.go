// Package config provides application configuration management.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sigs.k8s.io/yaml"
)

// DefaultBaseURL is the upstream generation service.
const DefaultBaseURL = "https://www.doubao.com"

// Upstream holds the session values forwarded on every upstream call.
type Upstream struct {
	BaseURL   string `json:"baseUrl,omitempty"`
	Cookie    string `json:"cookie,omitempty"`
	XMSToken  string `json:"xMsToken,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	TeaUUID   string `json:"teaUuid,omitempty"`
	WebID     string `json:"webId,omitempty"`
	MSToken   string `json:"msToken,omitempty"`
	ABogus    string `json:"aBogus,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerPort      string
	ShutdownTimeout time.Duration

	// Upstream session
	Upstream       Upstream
	RequestTimeout time.Duration

	// Resolution
	PollMaxAttempts int
	PollInterval    time.Duration

	// Artifact materialization
	Materialize     bool
	PublicDir       string
	ArtifactName    string
	ArtifactBucket  string
	ArtifactPrefix  string
	AWSRegion       string
	AWSEndpointURL  string
	DataStoreDriver string
	DataStoreDSN    string
	StatePath       string

	// Redis / events configuration
	RedisAddr        string
	RedisUsername    string
	RedisPassword    string
	RedisDB          int
	RedisTLSEnabled  bool
	RedisTLSInsecure bool
	EventsChannel    string

	// ConfigFile is the YAML overlay that was applied, if any.
	ConfigFile string
}

// fileOverlay is the YAML document accepted by BRIDGE_CONFIG_FILE. Durations
// use Go syntax such as "1500ms".
type fileOverlay struct {
	ServerPort string   `json:"serverPort,omitempty"`
	Upstream   Upstream `json:"upstream,omitempty"`
	Poll       struct {
		MaxAttempts int    `json:"maxAttempts,omitempty"`
		Interval    string `json:"interval,omitempty"`
	} `json:"poll,omitempty"`
	Artifact struct {
		Materialize *bool  `json:"materialize,omitempty"`
		PublicDir   string `json:"publicDir,omitempty"`
		Name        string `json:"name,omitempty"`
		Bucket      string `json:"bucket,omitempty"`
		Prefix      string `json:"prefix,omitempty"`
	} `json:"artifact,omitempty"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		ServerPort:      "3000",
		ShutdownTimeout: 10 * time.Second,
		Upstream:        Upstream{BaseURL: DefaultBaseURL},
		RequestTimeout:  30 * time.Second,
		PollMaxAttempts: 5,
		PollInterval:    1500 * time.Millisecond,
		PublicDir:       "public",
		ArtifactName:    "pic.png",
		ArtifactPrefix:  "generated",
		DataStoreDriver: "sqlite",
		StatePath:       "state",
		EventsChannel:   "imagegen-bridge-events",
	}
}

// Load builds the configuration from defaults, the optional YAML overlay
// named by BRIDGE_CONFIG_FILE, and finally environment variables, which win.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("BRIDGE_CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// ApplyFile overlays non-empty values from a YAML file.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.ServerPort, overlay.ServerPort)
	u := overlay.Upstream
	setString(&c.Upstream.BaseURL, u.BaseURL)
	setString(&c.Upstream.Cookie, u.Cookie)
	setString(&c.Upstream.XMSToken, u.XMSToken)
	setString(&c.Upstream.DeviceID, u.DeviceID)
	setString(&c.Upstream.TeaUUID, u.TeaUUID)
	setString(&c.Upstream.WebID, u.WebID)
	setString(&c.Upstream.MSToken, u.MSToken)
	setString(&c.Upstream.ABogus, u.ABogus)
	setString(&c.Upstream.RoomID, u.RoomID)
	setString(&c.Upstream.UserAgent, u.UserAgent)

	if overlay.Poll.MaxAttempts > 0 {
		c.PollMaxAttempts = overlay.Poll.MaxAttempts
	}
	if overlay.Poll.Interval != "" {
		d, err := time.ParseDuration(overlay.Poll.Interval)
		if err != nil {
			return fmt.Errorf("config file poll.interval: %w", err)
		}
		c.PollInterval = d
	}

	a := overlay.Artifact
	if a.Materialize != nil {
		c.Materialize = *a.Materialize
	}
	setString(&c.PublicDir, a.PublicDir)
	setString(&c.ArtifactName, a.Name)
	setString(&c.ArtifactBucket, a.Bucket)
	setString(&c.ArtifactPrefix, a.Prefix)

	c.ConfigFile = path
	return nil
}

func (c *Config) applyEnv() {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.Upstream.BaseURL = getEnv("UPSTREAM_BASE_URL", c.Upstream.BaseURL)
	c.Upstream.Cookie = getEnv("COOKIE", c.Upstream.Cookie)
	c.Upstream.XMSToken = getEnv("X_MS_TOKEN", c.Upstream.XMSToken)
	c.Upstream.DeviceID = getEnv("DEVICE_ID", c.Upstream.DeviceID)
	c.Upstream.TeaUUID = getEnv("TEA_UUID", c.Upstream.TeaUUID)
	c.Upstream.WebID = getEnv("WEB_ID", c.Upstream.WebID)
	c.Upstream.MSToken = getEnv("MS_TOKEN", c.Upstream.MSToken)
	c.Upstream.ABogus = getEnv("A_BOGUS", c.Upstream.ABogus)
	c.Upstream.RoomID = getEnv("ROOM_ID", c.Upstream.RoomID)
	c.Upstream.UserAgent = getEnv("UPSTREAM_USER_AGENT", c.Upstream.UserAgent)
	c.RequestTimeout = getEnvDuration("UPSTREAM_REQUEST_TIMEOUT", c.RequestTimeout)

	c.PollMaxAttempts = getEnvInt("POLL_MAX_ATTEMPTS", c.PollMaxAttempts)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)

	c.Materialize = getEnvBool("MATERIALIZE", c.Materialize)
	c.PublicDir = getEnv("PUBLIC_DIR", c.PublicDir)
	c.ArtifactName = getEnv("ARTIFACT_NAME", c.ArtifactName)
	c.ArtifactBucket = getEnv("ARTIFACT_BUCKET", c.ArtifactBucket)
	c.ArtifactPrefix = getEnv("ARTIFACT_PREFIX", c.ArtifactPrefix)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.AWSEndpointURL = getEnv("AWS_ENDPOINT_URL", c.AWSEndpointURL)

	c.StatePath = getEnv("STATE_PATH", c.StatePath)
	c.DataStoreDriver = getEnv("DATASTORE_DRIVER", c.DataStoreDriver)
	c.DataStoreDSN = getEnv("DATASTORE_DSN", c.DataStoreDSN)
	if c.DataStoreDSN == "" && c.DataStoreDriver == "postgres" {
		c.DataStoreDSN = os.Getenv("POSTGRES_DSN")
	}
	if c.DataStoreDSN == "" && c.DataStoreDriver == "sqlite" {
		c.DataStoreDSN = filepath.Join(c.StatePath, "imagegen-bridge.db")
	}

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisUsername = getEnv("REDIS_USERNAME", c.RedisUsername)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisTLSEnabled = getEnvBool("REDIS_TLS_ENABLED", c.RedisTLSEnabled)
	c.RedisTLSInsecure = getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", c.RedisTLSInsecure)
	c.EventsChannel = getEnv("EVENTS_CHANNEL", c.EventsChannel)
}

// MissingCredentials lists the unset upstream session variables.
func (c *Config) MissingCredentials() []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"COOKIE", c.Upstream.Cookie},
		{"X_MS_TOKEN", c.Upstream.XMSToken},
		{"DEVICE_ID", c.Upstream.DeviceID},
		{"TEA_UUID", c.Upstream.TeaUUID},
		{"WEB_ID", c.Upstream.WebID},
		{"MS_TOKEN", c.Upstream.MSToken},
		{"A_BOGUS", c.Upstream.ABogus},
		{"ROOM_ID", c.Upstream.RoomID},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if missing := c.MissingCredentials(); len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required upstream variables: %s", strings.Join(missing, ", ")))
	}
	if c.PollMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1, got %d", c.PollMaxAttempts))
	}
	if c.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must not be negative"))
	}
	if c.ArtifactName == "" || c.ArtifactName != filepath.Base(c.ArtifactName) {
		errs = append(errs, fmt.Errorf("ARTIFACT_NAME must be a plain file name, got %q", c.ArtifactName))
	}
	switch c.DataStoreDriver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported DATASTORE_DRIVER %q", c.DataStoreDriver))
	}
	return errors.Join(errs...)
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
