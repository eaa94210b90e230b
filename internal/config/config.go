package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	ListenAddr      string
	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	MySQLDSN string

	ProviderAPIKey    string
	ProviderBaseURL   string
	ProviderModel     string
	GenerateTimeout   time.Duration
	DownloadTimeout   time.Duration
	RequestDeadline   time.Duration
	TransientRetries  int
	VariantsPerResult int

	MaxUploadBytes int64
	RetentionDays  int
	PurgeInterval  time.Duration

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultProviderBaseURL = "https://api.imagegen.example.com"

	cfg := Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8000"),
		AdminListenAddr:   getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", "change-me"),
		ProviderBaseURL:   normalizeBaseURL(getEnv("PROVIDER_BASE_URL", defaultProviderBaseURL), defaultProviderBaseURL),
		ProviderModel:     getEnv("PROVIDER_MODEL", "gpt-image-1"),
		GenerateTimeout:   time.Second * time.Duration(getInt("GENERATE_TIMEOUT_SECONDS", 120)),
		DownloadTimeout:   time.Second * time.Duration(getInt("DOWNLOAD_TIMEOUT_SECONDS", 30)),
		RequestDeadline:   time.Second * time.Duration(getInt("REQUEST_DEADLINE_SECONDS", 300)),
		TransientRetries:  getInt("TRANSIENT_RETRIES", 3),
		VariantsPerResult: getInt("VARIANTS_PER_RESULT", 2),
		MaxUploadBytes:    int64(getInt("MAX_UPLOAD_MB", 10)) * 1024 * 1024,
		RetentionDays:     getInt("RETENTION_DAYS", 45),
		PurgeInterval:     time.Minute * time.Duration(getInt("PURGE_INTERVAL_MINUTES", 60)),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Region:          os.Getenv("S3_REGION"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:          getEnv("S3_PREFIX", "uploads"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.ProviderAPIKey = os.Getenv("PROVIDER_API_KEY")

	if cfg.VariantsPerResult < 1 {
		cfg.VariantsPerResult = 1
	}
	if cfg.VariantsPerResult > 2 {
		cfg.VariantsPerResult = 2
	}

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.ProviderAPIKey == "" {
		missing = append(missing, "PROVIDER_API_KEY")
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// normalizeBaseURL keeps the provider base URL scheme-qualified. Dashboard docs
// sometimes hand out a bare host, which url.Parse treats as a path.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}

	// Running purely off the process environment is fine.
	return nil
}
