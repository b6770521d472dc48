package config

import "time"

// CLIConfig holds defaults for the sitectl operator tool.
type CLIConfig struct {
	APIURL          string
	Token           string
	JWTSecret       string
	OutputRoot      string
	UploadsRoot     string
	RetentionWindow time.Duration
}

// LoadCLIConfig constructs a CLIConfig from environment variables and the optional
// config file.
func LoadCLIConfig() CLIConfig {
	return CLIConfig{
		APIURL:          GetString("SITEDEPLOY_API_URL", "http://localhost:4000"),
		Token:           GetString("SITEDEPLOY_TOKEN", ""),
		JWTSecret:       GetString("JWT_SECRET", ""),
		OutputRoot:      GetString("DEPLOY_OUTPUT_ROOT", "./deployments"),
		UploadsRoot:     GetString("UPLOADS_ROOT", "./public/uploads"),
		RetentionWindow: GetDuration("DEPLOY_RETENTION_WINDOW", DefaultRetentionWindow),
	}
}
