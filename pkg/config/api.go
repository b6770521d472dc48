package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment          string
	Addr                 string
	LogLevel             string
	DatabaseDriver       string
	DatabaseURL          string
	JWTSecret            string
	OutputRoot           string
	UploadsRoot          string
	MaxConcurrentDeploys int
	ChunkSize            int
	StreamThreshold      int
	SweepInterval        time.Duration
	RetentionWindow      time.Duration
	FetchTimeout         time.Duration
	MaxAssetBytes        int64
	DefaultDomainSuffix  string
	RateLimitRedisAddr   string
	RateLimitRedisPass   string
	RateLimitRedisDB     int
	DeployRateLimit      int
}

// Defaults applied when a value is unset or not positive.
const (
	DefaultMaxConcurrentDeploys = 50
	DefaultChunkSize            = 8
	DefaultStreamThreshold      = 512 * 1024
	DefaultSweepInterval        = 6 * time.Hour
	DefaultRetentionWindow      = 14 * 24 * time.Hour
	DefaultFetchTimeout         = 15 * time.Second
	DefaultMaxAssetBytes        = 20 << 20
	DefaultDeployRateLimit      = 10
)

// LoadAPIConfig constructs an APIConfig from environment variables and the optional
// config file.
func LoadAPIConfig() APIConfig {
	cfg := APIConfig{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("API_ADDR", ":4000"),
		LogLevel:             GetString("LOG_LEVEL", "info"),
		DatabaseDriver:       GetString("DATABASE_DRIVER", "postgres"),
		DatabaseURL:          GetString("DATABASE_URL", "postgres://sitedeploy:sitedeploy@db:5432/sitedeploy?sslmode=disable"),
		JWTSecret:            GetString("JWT_SECRET", "supersecuresecret"),
		OutputRoot:           GetString("DEPLOY_OUTPUT_ROOT", "./deployments"),
		UploadsRoot:          GetString("UPLOADS_ROOT", "./public/uploads"),
		MaxConcurrentDeploys: GetInt("MAX_CONCURRENT_DEPLOYS", DefaultMaxConcurrentDeploys),
		ChunkSize:            GetInt("DEPLOY_CHUNK_SIZE", DefaultChunkSize),
		StreamThreshold:      GetInt("DEPLOY_STREAM_THRESHOLD_BYTES", DefaultStreamThreshold),
		SweepInterval:        GetDuration("DEPLOY_SWEEP_INTERVAL", DefaultSweepInterval),
		RetentionWindow:      GetDuration("DEPLOY_RETENTION_WINDOW", DefaultRetentionWindow),
		FetchTimeout:         GetDuration("ASSET_FETCH_TIMEOUT", DefaultFetchTimeout),
		MaxAssetBytes:        GetInt64("ASSET_MAX_BYTES", DefaultMaxAssetBytes),
		DefaultDomainSuffix:  GetString("DEFAULT_DOMAIN_SUFFIX", "example.com"),
		RateLimitRedisAddr:   GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:     GetInt("RATE_LIMIT_REDIS_DB", 0),
		DeployRateLimit:      GetInt("DEPLOY_RATE_LIMIT_PER_MINUTE", DefaultDeployRateLimit),
	}
	return cfg.withDefaults()
}

func (c APIConfig) withDefaults() APIConfig {
	if c.MaxConcurrentDeploys <= 0 {
		c.MaxConcurrentDeploys = DefaultMaxConcurrentDeploys
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.StreamThreshold <= 0 {
		c.StreamThreshold = DefaultStreamThreshold
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = DefaultRetentionWindow
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.MaxAssetBytes <= 0 {
		c.MaxAssetBytes = DefaultMaxAssetBytes
	}
	if c.DeployRateLimit < 0 {
		c.DeployRateLimit = 0
	}
	return c
}
