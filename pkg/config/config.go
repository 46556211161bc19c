// Package config loads the stsync settings from the environment.
//
// Settings cover two environments of the same platform: Production (the
// system of record) and Integration (the sandbox records are copied into).
// Each environment carries its own auth endpoint, API base, OAuth client,
// tenant id, and application key. The settings value is constructed once at
// process start and passed into every component constructor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Env names an environment of the platform.
type Env string

const (
	Production  Env = "production"
	Integration Env = "integration"
)

// Environment holds the connection settings for one environment.
type Environment struct {
	Name         string
	AuthURL      string
	APIBase      string
	ClientID     string
	ClientSecret string
	TenantID     string
	AppKey       string
}

// ShipTo is an optional address override applied to purchase order
// ship-to blocks. Empty fields leave the warehouse address untouched.
type ShipTo struct {
	Street  string
	Unit    string
	City    string
	State   string
	Zip     string
	Country string
}

// Settings is the full configuration for a run.
type Settings struct {
	Production  Environment
	Integration Environment

	DBPath      string
	PageSize    int
	HTTPTimeout time.Duration

	// Fallback Integration ids used when a purchase order's own
	// warehouse or business unit cannot be resolved.
	DefaultWarehouseID    int64
	DefaultBusinessUnitID int64

	ShipTo ShipTo

	// Keywords matched (case-insensitively) against Integration purchase
	// order type names when picking a typeId for created POs.
	POTypeKeywords []string
}

// Load reads settings from the environment. A .env file is loaded first if
// present. Missing required keys are reported all at once.
func Load() (*Settings, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	appKeyGlobal := os.Getenv("ST_APP_KEY")

	s := &Settings{
		Production: Environment{
			Name:         "Production",
			AuthURL:      os.Getenv("ST_AUTH_URL_PROD"),
			APIBase:      os.Getenv("ST_API_BASE_PROD"),
			ClientID:     os.Getenv("ST_CLIENT_ID_PROD"),
			ClientSecret: os.Getenv("ST_CLIENT_SECRET_PROD"),
			TenantID:     os.Getenv("ST_TENANT_ID_PROD"),
			AppKey:       firstNonEmpty(os.Getenv("ST_APP_KEY_PROD"), appKeyGlobal),
		},
		Integration: Environment{
			Name:         "Integration",
			AuthURL:      os.Getenv("ST_AUTH_URL_INT"),
			APIBase:      os.Getenv("ST_API_BASE_INT"),
			ClientID:     os.Getenv("ST_CLIENT_ID_INT"),
			ClientSecret: os.Getenv("ST_CLIENT_SECRET_INT"),
			TenantID:     os.Getenv("ST_TENANT_ID_INT"),
			AppKey:       firstNonEmpty(os.Getenv("ST_APP_KEY_INT"), appKeyGlobal),
		},
		DBPath:      firstNonEmpty(os.Getenv("STSYNC_DB"), "stsync.sqlite3"),
		PageSize:    envInt("ST_PAGE_SIZE", 200),
		HTTPTimeout: time.Duration(envInt("ST_HTTP_TIMEOUT", 30)) * time.Second,

		DefaultWarehouseID:    envInt64("ST_DEFAULT_WAREHOUSE_ID_INT", 0),
		DefaultBusinessUnitID: envInt64("ST_DEFAULT_BUSINESS_UNIT_ID_INT", 0),

		ShipTo: ShipTo{
			Street:  os.Getenv("ST_SHIPTO_STREET"),
			Unit:    os.Getenv("ST_SHIPTO_UNIT"),
			City:    os.Getenv("ST_SHIPTO_CITY"),
			State:   os.Getenv("ST_SHIPTO_STATE"),
			Zip:     os.Getenv("ST_SHIPTO_ZIP"),
			Country: firstNonEmpty(os.Getenv("ST_SHIPTO_COUNTRY"), "US"),
		},

		POTypeKeywords: splitKeywords(firstNonEmpty(os.Getenv("ST_PO_TYPE_KEYWORDS"), "stock,inventory")),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Validate reports every missing required key in a single error so the
// operator can fix the .env file in one pass.
func (s *Settings) Validate() error {
	missing := s.MissingKeys()
	if len(missing) > 0 {
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MissingKeys returns the names of required environment variables that are
// not set.
func (s *Settings) MissingKeys() []string {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	require("ST_AUTH_URL_PROD", s.Production.AuthURL)
	require("ST_AUTH_URL_INT", s.Integration.AuthURL)
	require("ST_API_BASE_PROD", s.Production.APIBase)
	require("ST_API_BASE_INT", s.Integration.APIBase)
	require("ST_CLIENT_ID_PROD", s.Production.ClientID)
	require("ST_CLIENT_SECRET_PROD", s.Production.ClientSecret)
	require("ST_CLIENT_ID_INT", s.Integration.ClientID)
	require("ST_CLIENT_SECRET_INT", s.Integration.ClientSecret)
	require("ST_TENANT_ID_PROD", s.Production.TenantID)
	require("ST_TENANT_ID_INT", s.Integration.TenantID)
	// App keys can come from env-specific or global ST_APP_KEY
	require("ST_APP_KEY_PROD or ST_APP_KEY", s.Production.AppKey)
	require("ST_APP_KEY_INT or ST_APP_KEY", s.Integration.AppKey)

	return missing
}

// Environment returns the settings for the named environment. An
// unrecognized name is a configuration error.
func (s *Settings) Environment(env Env) (Environment, error) {
	switch env {
	case Production:
		return s.Production, nil
	case Integration:
		return s.Integration, nil
	default:
		return Environment{}, fmt.Errorf("unknown environment: %q", env)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func splitKeywords(raw string) []string {
	var out []string
	for _, kw := range strings.Split(raw, ",") {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
