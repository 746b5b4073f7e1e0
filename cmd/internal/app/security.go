package app

import (
	"errors"
	"fmt"
	"strings"
)

// Capability drivers.
const (
	DriverSim    = "sim"
	DriverBridge = "bridge"
)

// ValidateConfig fails fast on configurations that would start a server
// in a half-working state.
func ValidateConfig(cfg Config) error {
	var errs []error

	if strings.TrimSpace(cfg.DataDir) == "" {
		errs = append(errs, errors.New("config: PAIRLINE_DATA_DIR must not be empty"))
	}

	switch cfg.Driver {
	case DriverSim:
	case DriverBridge:
		if strings.TrimSpace(cfg.BridgeURL) == "" {
			errs = append(errs, errors.New("config: PAIRLINE_DRIVER=bridge but PAIRLINE_BRIDGE_URL is missing"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown PAIRLINE_DRIVER %q (want sim or bridge)", cfg.Driver))
	}

	if cfg.PortalUsersFile != "" && strings.TrimSpace(cfg.PortalSecretHex) == "" {
		errs = append(errs, errors.New("config: PAIRLINE_PORTAL_USERS_FILE is set but PAIRLINE_PASETO_V4_SECRET_KEY_HEX is missing"))
	}

	if cfg.ReadinessRequireDB && cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("config: PAIRLINE_READINESS_REQUIRE_DB=true but PAIRLINE_DATABASE_URL is missing"))
	}

	if cfg.SendWait > 0 && cfg.WriteTimeout > 0 && cfg.SendWait >= cfg.WriteTimeout {
		errs = append(errs, fmt.Errorf("config: PAIRLINE_SEND_WAIT (%s) must be below PAIRLINE_HTTP_WRITE_TIMEOUT (%s)", cfg.SendWait, cfg.WriteTimeout))
	}

	for _, o := range cfg.CORSAllowedOrigins {
		if o == "*" && cfg.CORSAllowCredentials {
			errs = append(errs, errors.New("config: PAIRLINE_CORS_ALLOW_CREDENTIALS=true cannot be combined with a * origin"))
			break
		}
	}

	return errors.Join(errs...)
}
