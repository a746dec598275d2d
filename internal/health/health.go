// Package health runs boot-time readiness checks over the configuration so
// startup can surface missing pieces before the daemon begins work.
package health

import (
	"os"
	"path/filepath"

	"github.com/whiteout-project/wosbot/internal/config"
)

// Status represents feature or dependency status
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusDisabled
)

// Check represents a health check result
type Check struct {
	Name    string
	Status  Status
	Message string
	Fix     string
}

// FeatureStatus represents a feature with its availability
type FeatureStatus struct {
	Name    string
	Enabled bool
	Status  Status
	Note    string
}

// Report contains all health check results
type Report struct {
	Dependencies []Check
	Features     []FeatureStatus
}

// RunChecks performs all health checks based on config
func RunChecks(cfg *config.Config) *Report {
	return &Report{
		Dependencies: checkDependencies(cfg),
		Features:     checkFeatures(cfg),
	}
}

// checkDependencies verifies the pieces the daemon cannot run without.
func checkDependencies(cfg *config.Config) []Check {
	checks := []Check{}

	// Database directory must be creatable and writable.
	if cfg.Database == nil || cfg.Database.Path == "" {
		checks = append(checks, Check{
			Name:    "database",
			Status:  StatusError,
			Message: "no path configured",
			Fix:     "set database.path in config.yaml",
		})
	} else if err := probeWritable(cfg.Database.Path); err != nil {
		checks = append(checks, Check{
			Name:    "database",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "check permissions on " + cfg.Database.Path,
		})
	} else {
		checks = append(checks, Check{
			Name:    "database",
			Status:  StatusOK,
			Message: cfg.Database.Path,
		})
	}

	// Game API endpoint.
	if cfg.GameAPI == nil || cfg.GameAPI.BaseURL == "" {
		checks = append(checks, Check{
			Name:    "game_api",
			Status:  StatusError,
			Message: "no base URL configured",
			Fix:     "set game_api.base_url in config.yaml",
		})
	} else {
		checks = append(checks, Check{
			Name:    "game_api",
			Status:  StatusOK,
			Message: cfg.GameAPI.BaseURL,
		})
	}

	return checks
}

// checkFeatures checks feature availability
func checkFeatures(cfg *config.Config) []FeatureStatus {
	features := []FeatureStatus{}

	// Discord notifications
	discordEnabled := cfg.Discord != nil && cfg.Discord.BotToken != ""
	discordNote := ""
	if !discordEnabled {
		discordNote = "no bot token"
	}
	features = append(features, FeatureStatus{
		Name:    "Discord",
		Enabled: discordEnabled,
		Status:  boolToStatus(discordEnabled),
		Note:    discordNote,
	})

	// Game API signing
	signingEnabled := cfg.GameAPI != nil && cfg.GameAPI.Secret != ""
	signingNote := ""
	signingStatus := StatusOK
	if !signingEnabled {
		signingStatus = StatusWarning
		signingNote = "no secret, requests unsigned"
	}
	features = append(features, FeatureStatus{
		Name:    "Signing",
		Enabled: signingEnabled,
		Status:  signingStatus,
		Note:    signingNote,
	})

	// Status gateway
	gatewayEnabled := cfg.Gateway != nil && cfg.Gateway.Port > 0
	features = append(features, FeatureStatus{
		Name:    "Gateway",
		Enabled: gatewayEnabled,
		Status:  boolToStatus(gatewayEnabled),
	})

	return features
}

// probeWritable confirms the data directory exists (or can be created) and
// accepts writes.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".wosbot-probe")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// boolToStatus converts bool to Status
func boolToStatus(enabled bool) Status {
	if enabled {
		return StatusOK
	}
	return StatusDisabled
}

// HasErrors reports whether any dependency check failed outright.
func (r *Report) HasErrors() bool {
	for _, c := range r.Dependencies {
		if c.Status == StatusError {
			return true
		}
	}
	return false
}

// StatusSymbol returns the symbol for a status
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "○"
	case StatusError:
		return "✗"
	case StatusDisabled:
		return "·"
	default:
		return "?"
	}
}
