package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
	TrustProxy           bool

	// Sessions.
	DataDir             string
	RecoveryDelay       time.Duration
	RecoveryMaxAttempts int
	MaxSessions         int
	InitTimeout         time.Duration
	ReleaseTimeout      time.Duration
	RestoreSessions     bool

	// Dispatch.
	MinDigits     int
	AddressSuffix string
	SendTimeout   time.Duration
	SendWait      time.Duration

	// Driver: sim | bridge.
	Driver       string
	BridgeURL    string
	SimAutoPair  time.Duration
	EventOrigins []string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Portal is enabled when PortalUsersFile is set.
	PortalUsersFile   string
	PortalSecretHex   string
	PortalTokenTTL    time.Duration
	PortalLoginMax    int
	PortalLoginWindow time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  envHTTPAddr(),
		LogLevel:  EnvString("PAIRLINE_LOG_LEVEL", "info"),
		LogFormat: EnvString("PAIRLINE_LOG_FORMAT", "json"),
		LogColor:  EnvBool("PAIRLINE_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("PAIRLINE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PAIRLINE_HTTP_READ_TIMEOUT", 15*time.Second),
		// Sends may wait on the capability; keep this above PAIRLINE_SEND_WAIT.
		WriteTimeout:    EnvDuration("PAIRLINE_HTTP_WRITE_TIMEOUT", 90*time.Second),
		IdleTimeout:     EnvDuration("PAIRLINE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: EnvDuration("PAIRLINE_SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:  EnvInt("PAIRLINE_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:    EnvInt("PAIRLINE_HTTP_MAX_BODY_BYTES", 64<<10),

		CORSAllowedOrigins:   EnvCSV("PAIRLINE_CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowCredentials: EnvBool("PAIRLINE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("PAIRLINE_CORS_MAX_AGE_SECONDS", 600),
		TrustProxy:           EnvBool("PAIRLINE_TRUST_PROXY", false),

		DataDir:             EnvString("PAIRLINE_DATA_DIR", "./sessions"),
		RecoveryDelay:       EnvDuration("PAIRLINE_RECOVERY_DELAY", 5*time.Second),
		RecoveryMaxAttempts: EnvInt("PAIRLINE_RECOVERY_MAX_ATTEMPTS", 0),
		MaxSessions:         EnvInt("PAIRLINE_MAX_SESSIONS", 0),
		InitTimeout:         EnvDuration("PAIRLINE_INIT_TIMEOUT", 2*time.Minute),
		ReleaseTimeout:      EnvDuration("PAIRLINE_RELEASE_TIMEOUT", 10*time.Second),
		RestoreSessions:     EnvBool("PAIRLINE_RESTORE_SESSIONS", false),

		MinDigits:     EnvInt("PAIRLINE_MIN_DIGITS", 0),
		AddressSuffix: EnvString("PAIRLINE_ADDRESS_SUFFIX", "@c.us"),
		SendTimeout:   EnvDuration("PAIRLINE_SEND_TIMEOUT", 60*time.Second),
		SendWait:      EnvDuration("PAIRLINE_SEND_WAIT", 30*time.Second),

		Driver:       EnvString("PAIRLINE_DRIVER", "sim"),
		BridgeURL:    EnvString("PAIRLINE_BRIDGE_URL", ""),
		SimAutoPair:  EnvDuration("PAIRLINE_SIM_AUTOPAIR", 0),
		EventOrigins: EnvCSV("PAIRLINE_EVENTS_ALLOWED_ORIGINS", nil),

		DatabaseURL: EnvString("PAIRLINE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PAIRLINE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PAIRLINE_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PAIRLINE_READINESS_REQUIRE_DB", false),

		PortalUsersFile:   EnvString("PAIRLINE_PORTAL_USERS_FILE", ""),
		PortalSecretHex:   EnvString("PAIRLINE_PASETO_V4_SECRET_KEY_HEX", ""),
		PortalTokenTTL:    EnvDuration("PAIRLINE_PORTAL_TOKEN_TTL", 12*time.Hour),
		PortalLoginMax:    EnvInt("PAIRLINE_PORTAL_LOGIN_MAX", 10),
		PortalLoginWindow: EnvDuration("PAIRLINE_PORTAL_LOGIN_WINDOW", 5*time.Minute),
	}
}

// envHTTPAddr prefers PAIRLINE_HTTP_ADDR, then a bare PORT as set by most PaaS runtimes.
func envHTTPAddr() string {
	if addr := EnvString("PAIRLINE_HTTP_ADDR", ""); addr != "" {
		return addr
	}
	if port := EnvString("PORT", ""); port != "" {
		return "0.0.0.0:" + port
	}
	return "0.0.0.0:8080"
}
