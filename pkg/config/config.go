package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// FileEnv names the environment variable pointing at an optional YAML config file.
// Keys in the file use the same names as the environment variables.
const FileEnv = "SITEDEPLOY_CONFIG"

var (
	mu  sync.Mutex
	src *viper.Viper
)

func source() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	if src == nil {
		src = newSource(os.Getenv(FileEnv))
	}
	return src
}

func newSource(file string) *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("read config file %s: %v", file, err)
		}
	}
	return v
}

// UseFile replaces the configuration source with one that also reads file.
// Environment variables still take precedence over file values.
func UseFile(file string) {
	mu.Lock()
	defer mu.Unlock()
	src = newSource(file)
}

func lookup(key string) (string, bool) {
	v := source()
	if !v.IsSet(key) {
		return "", false
	}
	return strings.TrimSpace(v.GetString(key)), true
}

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := lookup(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetInt64 retrieves an environment variable as int64 or returns fallback.
func GetInt64(key string, fallback int64) int64 {
	if value, ok := lookup(key); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetDuration retrieves an environment variable as a Go duration ("90s", "6h") or
// returns fallback.
func GetDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}
