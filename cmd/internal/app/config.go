package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// DataDir is the root of all on-disk state (room metadata, message logs,
	// the file-backed user store).
	DataDir string

	// DatabaseURL switches the identity store to Postgres when non-empty.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// CORS policy for the REST API.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("HEARTH_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("HEARTH_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("HEARTH_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HEARTH_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HEARTH_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HEARTH_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("HEARTH_HTTP_MAX_HEADER_BYTES", 1<<20),

		DataDir: EnvString("HEARTH_DATA_DIR", "data"),

		DatabaseURL: EnvString("HEARTH_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("HEARTH_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("HEARTH_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("HEARTH_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvCSV("HEARTH_CORS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
		CORSAllowCredentials: EnvBool("HEARTH_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("HEARTH_CORS_MAX_AGE_SECONDS", 600),
	}
}
