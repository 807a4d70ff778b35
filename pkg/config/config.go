// Package config loads server and CLI configuration from the environment and
// an optional YAML file. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/verichat/pkg/artifacts"
	"github.com/Mindburn-Labs/verichat/pkg/ledger"
)

// Config holds server configuration.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// SignerURL selects a remote signer; SignerSeed (hex) enables a local one.
	SignerURL  string `yaml:"signer_url"`
	SignerSeed string `yaml:"signer_seed"`

	// ShareBaseURL prefixes reference links.
	ShareBaseURL string `yaml:"share_base_url"`

	Ledger      LedgerConfig      `yaml:"ledger"`
	Artifacts   ArtifactConfig    `yaml:"artifacts"`
	Attestation AttestationConfig `yaml:"attestation"`

	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`

	RateLimitRPS      float64 `yaml:"rate_limit_rps"`
	VerifyConcurrency int     `yaml:"verify_concurrency"`
}

type LedgerConfig struct {
	Type          string `yaml:"type"`
	DSN           string `yaml:"dsn"`
	URL           string `yaml:"url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type ArtifactConfig struct {
	Type       string `yaml:"type"`
	DataDir    string `yaml:"data_dir"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Prefix   string `yaml:"s3_prefix"`
	GCSBucket  string `yaml:"gcs_bucket"`
	GCSPrefix  string `yaml:"gcs_prefix"`
	HTTPURL    string `yaml:"http_url"`
}

// AttestationConfig configures the remote attestation services and the
// measurement policies applied to each target.
type AttestationConfig struct {
	NRASURL        string       `yaml:"nras_url"`
	TDXVerifierURL string       `yaml:"tdx_verifier_url"`
	GPUTokenKey    string       `yaml:"gpu_token_key"` // PEM
	Model          TargetConfig `yaml:"model"`
	Gateway        TargetConfig `yaml:"gateway"`
}

type TargetConfig struct {
	URL       string `yaml:"url"`
	GPUPolicy string `yaml:"gpu_policy"`
	TDXPolicy string `yaml:"tdx_policy"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:              "8080",
		LogLevel:          "INFO",
		Ledger:            LedgerConfig{Type: ledger.TypeMemory},
		Artifacts:         ArtifactConfig{Type: string(artifacts.StoreTypeFS), DataDir: "data"},
		OTelEndpoint:      "localhost:4317",
		RateLimitRPS:      10,
		VerifyConcurrency: 4,
	}
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := Defaults()
	cfg.applyEnv(os.LookupEnv)
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies the environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	str("SIGNER_URL", &c.SignerURL)
	str("SIGNER_SEED", &c.SignerSeed)
	str("SHARE_BASE_URL", &c.ShareBaseURL)

	str("LEDGER_TYPE", &c.Ledger.Type)
	str("LEDGER_DSN", &c.Ledger.DSN)
	str("LEDGER_URL", &c.Ledger.URL)
	str("REDIS_ADDR", &c.Ledger.RedisAddr)
	str("REDIS_PASSWORD", &c.Ledger.RedisPassword)
	num("REDIS_DB", &c.Ledger.RedisDB)

	str("ARTIFACT_STORAGE_TYPE", &c.Artifacts.Type)
	str("DATA_DIR", &c.Artifacts.DataDir)
	str("ARTIFACT_S3_BUCKET", &c.Artifacts.S3Bucket)
	str("AWS_REGION", &c.Artifacts.S3Region)
	str("ARTIFACT_S3_REGION", &c.Artifacts.S3Region)
	str("ARTIFACT_S3_ENDPOINT", &c.Artifacts.S3Endpoint)
	str("ARTIFACT_S3_PREFIX", &c.Artifacts.S3Prefix)
	str("ARTIFACT_GCS_BUCKET", &c.Artifacts.GCSBucket)
	str("ARTIFACT_GCS_PREFIX", &c.Artifacts.GCSPrefix)
	str("ARTIFACT_HTTP_URL", &c.Artifacts.HTTPURL)

	str("NRAS_URL", &c.Attestation.NRASURL)
	str("TDX_VERIFIER_URL", &c.Attestation.TDXVerifierURL)
	str("GPU_TOKEN_KEY", &c.Attestation.GPUTokenKey)
	str("MODEL_ATTESTATION_URL", &c.Attestation.Model.URL)
	str("GATEWAY_ATTESTATION_URL", &c.Attestation.Gateway.URL)

	if v, ok := lookup("OTEL_ENABLED"); ok {
		c.OTelEnabled = v == "true"
	}
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTelEndpoint)

	if v, ok := lookup("RATE_LIMIT_RPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimitRPS = f
		}
	}
	num("VERIFY_CONCURRENCY", &c.VerifyConcurrency)
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.VerifyConcurrency <= 0 {
		return fmt.Errorf("config: verify concurrency must be positive")
	}
	if c.SignerURL != "" && c.SignerSeed != "" {
		return fmt.Errorf("config: SIGNER_URL and SIGNER_SEED are mutually exclusive")
	}
	return nil
}

// LedgerOptions maps the ledger settings onto the ledger factory.
func (c *Config) LedgerOptions() ledger.Options {
	return ledger.Options{
		Type:          c.Ledger.Type,
		DSN:           c.Ledger.DSN,
		URL:           c.Ledger.URL,
		RedisAddr:     c.Ledger.RedisAddr,
		RedisPassword: c.Ledger.RedisPassword,
		RedisDB:       c.Ledger.RedisDB,
	}
}

// ArtifactOptions maps the blob store settings onto the artifacts factory.
func (c *Config) ArtifactOptions() artifacts.Options {
	a := c.Artifacts
	return artifacts.Options{
		Type:       artifacts.StoreType(a.Type),
		DataDir:    a.DataDir,
		S3Bucket:   a.S3Bucket,
		S3Region:   a.S3Region,
		S3Endpoint: a.S3Endpoint,
		S3Prefix:   a.S3Prefix,
		GCSBucket:  a.GCSBucket,
		GCSPrefix:  a.GCSPrefix,
		HTTPURL:    a.HTTPURL,
	}
}
