package config

import (
	"encoding/csv"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rescale/megadl/internal/constants"
)

// Sink kinds accepted by the sink setting.
const (
	SinkFile  = "file"
	SinkS3    = "s3"
	SinkAzure = "azure"
)

// Proxy modes accepted by the proxy_mode setting.
const (
	ProxyNone   = "no-proxy"
	ProxySystem = "system"
	ProxyBasic  = "basic"
	ProxyNTLM   = "ntlm"
)

// Config represents the megadl configuration
type Config struct {
	// Mega API base URL (requests go to APIURL + "/cs")
	APIURL string

	// Download settings
	OutputDir      string
	MaxConcurrent  int
	MaxRetries     int  // whole-session restarts after a transport failure (default: 0)
	CheckDiskSpace bool // refuse to start a local download that cannot fit

	// Proxy settings
	ProxyMode     string // one of the Proxy* modes
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool

	// Output sink: "file" (default), "s3" or "azure"
	Sink string

	// S3 sink settings. Credentials come from MEGADL_S3_ACCESS_KEY_ID /
	// MEGADL_S3_SECRET_ACCESS_KEY when set, else the default AWS chain.
	S3Bucket          string
	S3Region          string
	S3Prefix          string
	S3Endpoint        string // S3-compatible endpoint (MinIO, Ceph); path-style addressing
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Azure sink settings. ContainerURL must carry a SAS token.
	AzureContainerURL string
	AzurePrefix       string
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		APIURL:         constants.DefaultAPIURL,
		OutputDir:      ".",
		MaxConcurrent:  constants.DefaultMaxConcurrent,
		CheckDiskSpace: true,
		ProxyMode:      ProxyNone,
		Sink:           SinkFile,
	}
}

// EffectiveProxyMode returns the lower-cased proxy mode, with an empty
// mode reported as ProxyNone.
func (c *Config) EffectiveProxyMode() string {
	if c.ProxyMode == "" {
		return ProxyNone
	}
	return strings.ToLower(c.ProxyMode)
}

// ProxyAuthMode reports whether mode sends credentials to the proxy.
func ProxyAuthMode(mode string) bool {
	return mode == ProxyBasic || mode == ProxyNTLM
}

// setting binds a config file key to a Config field. Zero values are
// not written unless always is set.
type setting struct {
	key    string
	get    func(*Config) string
	set    func(*Config, string)
	always bool
}

func stringSetting(key string, field func(*Config) *string) setting {
	return setting{
		key: key,
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) { *field(c) = v },
	}
}

func intSetting(key string, field func(*Config) *int) setting {
	return setting{
		key: key,
		get: func(c *Config) string {
			if v := *field(c); v != 0 {
				return strconv.Itoa(v)
			}
			return ""
		},
		set: func(c *Config, v string) {
			if n, err := strconv.Atoi(v); err == nil {
				*field(c) = n
			}
		},
	}
}

func boolSetting(key string, field func(*Config) *bool) setting {
	return setting{
		key:    key,
		get:    func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set:    func(c *Config, v string) { *field(c) = parseBool(v) },
		always: true,
	}
}

// settings lists the persisted keys in file order.
var settings = []setting{
	stringSetting("api_url", func(c *Config) *string { return &c.APIURL }),
	stringSetting("output_dir", func(c *Config) *string { return &c.OutputDir }),
	intSetting("max_concurrent", func(c *Config) *int { return &c.MaxConcurrent }),
	intSetting("max_retries", func(c *Config) *int { return &c.MaxRetries }),
	boolSetting("check_disk_space", func(c *Config) *bool { return &c.CheckDiskSpace }),
	stringSetting("proxy_mode", func(c *Config) *string { return &c.ProxyMode }),
	stringSetting("proxy_host", func(c *Config) *string { return &c.ProxyHost }),
	intSetting("proxy_port", func(c *Config) *int { return &c.ProxyPort }),
	stringSetting("proxy_user", func(c *Config) *string { return &c.ProxyUser }),
	stringSetting("no_proxy", func(c *Config) *string { return &c.NoProxy }),
	boolSetting("proxy_warmup", func(c *Config) *bool { return &c.ProxyWarmup }),
	{
		key: "sink",
		get: func(c *Config) string { return c.Sink },
		set: func(c *Config, v string) { c.Sink = strings.ToLower(v) },
	},
	stringSetting("s3_bucket", func(c *Config) *string { return &c.S3Bucket }),
	stringSetting("s3_region", func(c *Config) *string { return &c.S3Region }),
	stringSetting("s3_prefix", func(c *Config) *string { return &c.S3Prefix }),
	stringSetting("s3_endpoint", func(c *Config) *string { return &c.S3Endpoint }),
	stringSetting("azure_container_url", func(c *Config) *string { return &c.AzureContainerURL }),
	stringSetting("azure_prefix", func(c *Config) *string { return &c.AzurePrefix }),
}

// secretKeys maps file keys that are refused to the variable that supplies them.
var secretKeys = map[string]string{
	"proxy_password":       "MEGADL_PROXY_PASSWORD",
	"s3_access_key_id":     "MEGADL_S3_ACCESS_KEY_ID",
	"s3_secret_access_key": "MEGADL_S3_SECRET_ACCESS_KEY",
}

func lookupSetting(key string) (setting, bool) {
	for _, s := range settings {
		if s.key == key {
			return s, true
		}
	}
	return setting{}, false
}

// LoadConfigCSV reads key,value records from path over the defaults.
// A missing file or empty path yields the defaults. Unknown keys are ignored.
func LoadConfigCSV(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read config CSV: %w", err)
	}

	for i, record := range records {
		if len(record) < 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(record[0]))
		value := strings.TrimSpace(record[1])
		if i == 0 && key == "key" {
			continue
		}

		if env, ok := secretKeys[key]; ok {
			if value != "" {
				log.Warn().Str("key", key).Str("env", env).Msg("secret in config file ignored, set it in the environment")
			}
			continue
		}
		if s, ok := lookupSetting(key); ok {
			s.set(cfg, value)
		}
	}

	return cfg, nil
}

// SaveConfigCSV writes cfg to path with owner-only permissions.
// Secrets are never written.
func SaveConfigCSV(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"key", "value"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, s := range settings {
		value := s.get(cfg)
		if value == "" && !s.always {
			continue
		}
		if err := writer.Write([]string{s.key, value}); err != nil {
			return fmt.Errorf("failed to write %s: %w", s.key, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush config file: %w", err)
	}
	return nil
}

// envOverrides are applied in order by ApplyEnv when the variable is non-empty.
var envOverrides = []struct {
	name  string
	apply func(*Config, string)
}{
	{"MEGADL_API_URL", func(c *Config, v string) { c.APIURL = v }},
	{"MEGADL_OUTPUT_DIR", func(c *Config, v string) { c.OutputDir = v }},
	{"MEGADL_PROXY_MODE", func(c *Config, v string) { c.ProxyMode = v }},
	{"MEGADL_PROXY_PASSWORD", func(c *Config, v string) { c.ProxyPassword = v }},
	{"MEGADL_S3_ACCESS_KEY_ID", func(c *Config, v string) { c.S3AccessKeyID = v }},
	{"MEGADL_S3_SECRET_ACCESS_KEY", func(c *Config, v string) { c.S3SecretAccessKey = v }},
	{"MEGADL_SINK", func(c *Config, v string) { c.Sink = strings.ToLower(v) }},
}

// ApplyEnv applies MEGADL_* environment overrides, then adopts HTTPS_PROXY
// when no proxy host is configured.
// Priority: flags > environment > config file > defaults
func (c *Config) ApplyEnv() {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(c, v)
		}
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" && c.ProxyHost == "" {
		c.adoptProxyURL(v)
	}
}

// MergeWithFlags applies command-line overrides on top of file and environment values.
// Empty or zero flag values leave the current setting alone, except maxRetries,
// where only a negative value does. A blank output directory becomes ".".
func (c *Config) MergeWithFlags(apiURL, outputDir, sink string, maxConcurrent, maxRetries int) {
	c.ApplyEnv()

	if apiURL != "" {
		c.APIURL = apiURL
	}
	if outputDir != "" {
		c.OutputDir = outputDir
	}
	if sink != "" {
		c.Sink = strings.ToLower(sink)
	}
	if maxConcurrent > 0 {
		c.MaxConcurrent = maxConcurrent
	}
	if maxRetries >= 0 {
		c.MaxRetries = maxRetries
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		c.OutputDir = "."
	}

	if c.APIURL != "" && !strings.HasPrefix(c.APIURL, "http") {
		c.APIURL = "https://" + c.APIURL
	}
	c.APIURL = strings.TrimSuffix(c.APIURL, "/")
}

// adoptProxyURL takes host and port from a proxy URL such as
// "http://proxy:8080/" and switches a direct config to system mode.
func (c *Config) adoptProxyURL(raw string) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return
	}
	c.ProxyHost = u.Hostname()
	if port, err := strconv.Atoi(u.Port()); err == nil {
		c.ProxyPort = port
	}
	if c.EffectiveProxyMode() == ProxyNone {
		c.ProxyMode = ProxySystem
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.MaxConcurrent < constants.MinMaxConcurrent || c.MaxConcurrent > constants.MaxMaxConcurrent {
		return fmt.Errorf("max_concurrent must be between %d and %d, got %d",
			constants.MinMaxConcurrent, constants.MaxMaxConcurrent, c.MaxConcurrent)
	}
	if c.MaxRetries < 0 || c.MaxRetries > constants.MaxSessionRetries {
		return fmt.Errorf("max_retries must be between 0 and %d, got %d", constants.MaxSessionRetries, c.MaxRetries)
	}

	switch mode := c.EffectiveProxyMode(); {
	case mode == ProxyNone || mode == ProxySystem:
	case ProxyAuthMode(mode):
		if c.ProxyHost == "" {
			return fmt.Errorf("proxy_host is required for proxy mode %q", c.ProxyMode)
		}
	default:
		return fmt.Errorf("unsupported proxy mode: %s", c.ProxyMode)
	}

	switch c.Sink {
	case SinkFile:
	case SinkS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("s3_bucket is required for the s3 sink")
		}
		if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
			return fmt.Errorf("MEGADL_S3_ACCESS_KEY_ID and MEGADL_S3_SECRET_ACCESS_KEY must be set together")
		}
	case SinkAzure:
		if c.AzureContainerURL == "" {
			return fmt.Errorf("azure_container_url is required for the azure sink")
		}
	default:
		return fmt.Errorf("unsupported sink: %s (use file, s3 or azure)", c.Sink)
	}
	return nil
}

func parseBool(value string) bool {
	return strings.EqualFold(value, "true") || value == "1"
}
