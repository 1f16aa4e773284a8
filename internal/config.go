package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/karat-app/karat/internal/domain"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Chat webhook
	WebhookSecret string

	// Admin provisioning API shared token. Empty disables the admin routes.
	AdminToken string

	// Admission / tenant cache
	TenantCacheTTL       time.Duration
	TenantCacheMaxSize   int
	TenantResolveTimeout time.Duration
	DefaultTenantID      string // optional fallback org for unlinked identities
	SweepSchedule        string // cron spec for counter/cache sweeps

	// Per-tier plan limit overrides. Zero means "use the built-in default";
	// set -1 for unlimited.
	PlanOverrides map[domain.PlanTier]domain.PlanLimits

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string
	LocalStorageURL  string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string // Optional custom domain URL

	// Metrics endpoint authentication.
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		AdminToken:    getEnv("ADMIN_TOKEN", ""),

		TenantCacheTTL:       getEnvDuration("TENANT_CACHE_TTL", 300*time.Second),
		TenantCacheMaxSize:   getEnvInt("TENANT_CACHE_MAX_SIZE", 1000),
		TenantResolveTimeout: getEnvDuration("TENANT_RESOLVE_TIMEOUT", 2*time.Second),
		DefaultTenantID:      getEnv("DEFAULT_TENANT_ID", ""),
		SweepSchedule:        getEnv("ADMISSION_SWEEP_SCHEDULE", "0 * * * *"),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	cfg.PlanOverrides = loadPlanOverrides()

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	return cfg, nil
}

// PlanCatalog builds the plan catalog with any configured overrides
// applied on top of the built-in defaults.
func (c *Config) PlanCatalog() *domain.PlanCatalog {
	if len(c.PlanOverrides) == 0 {
		return domain.NewPlanCatalog()
	}
	return domain.NewPlanCatalogWithLimits(c.PlanOverrides)
}

// loadPlanOverrides reads PLAN_<TIER>_<LIMIT> variables, e.g.
// PLAN_BASIC_REQUESTS_PER_MINUTE=60. A tier is only overridden when at
// least one of its variables is set; unset numbers keep the defaults.
func loadPlanOverrides() map[domain.PlanTier]domain.PlanLimits {
	defaults := domain.DefaultPlanLimits()
	overrides := make(map[domain.PlanTier]domain.PlanLimits)

	for tier, prefix := range map[domain.PlanTier]string{
		domain.PlanTierBasic:      "PLAN_BASIC_",
		domain.PlanTierPro:        "PLAN_PRO_",
		domain.PlanTierEnterprise: "PLAN_ENTERPRISE_",
	} {
		limits := defaults[tier]
		touched := false

		set := func(key string, dst *int) {
			if value := os.Getenv(prefix + key); value != "" {
				if i, err := strconv.Atoi(value); err == nil {
					*dst = i
					touched = true
				}
			}
		}

		set("REQUESTS_PER_MINUTE", &limits.RequestsPerMinute)
		set("REQUESTS_PER_HOUR", &limits.RequestsPerHour)
		set("REQUESTS_PER_DAY", &limits.RequestsPerDay)
		set("INVOICES_PER_MONTH", &limits.InvoicesPerMonth)
		set("USERS_PER_ORG", &limits.UsersPerOrg)
		set("MAX_ITEMS_PER_INVOICE", &limits.MaxItemsPerInvoice)

		if touched {
			overrides[tier] = limits
		}
	}

	return overrides
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
