package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation pass.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ConfigValidationError is returned when validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validatePolymarket(&c.Polymarket)...)
	errors = append(errors, validateEngine(&c.Engine)...)
	errors = append(errors, validateWatcher(&c.Watcher)...)
	errors = append(errors, validateSettlement(&c.Settlement)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	if c.Storage.Path == "" {
		errors = append(errors, ValidationError{
			Field:   "storage.path",
			Message: "must not be empty",
		})
	}
	if c.StrategiesFile == "" {
		errors = append(errors, ValidationError{
			Field:   "strategies_file",
			Message: "must not be empty",
		})
	}

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validatePolymarket(pm *PolymarketConfig) []ValidationError {
	var errors []ValidationError

	if pm.GammaAPIURL == "" {
		errors = append(errors, ValidationError{
			Field:   "polymarket.gamma_api_url",
			Message: "must not be empty",
		})
	}
	if pm.ClobAPIURL == "" {
		errors = append(errors, ValidationError{
			Field:   "polymarket.clob_api_url",
			Message: "must not be empty",
		})
	}
	if pm.ClobWSURL == "" {
		errors = append(errors, ValidationError{
			Field:   "polymarket.clob_ws_url",
			Message: "must not be empty",
		})
	}
	if pm.SignatureType < 0 || pm.SignatureType > 2 {
		errors = append(errors, ValidationError{
			Field:   "polymarket.signature_type",
			Message: "must be 0, 1 or 2",
		})
	}
	if pm.RequestsPerSecond <= 0 {
		errors = append(errors, ValidationError{
			Field:   "polymarket.requests_per_second",
			Message: "must be positive",
		})
	}

	return errors
}

func validateEngine(e *EngineConfig) []ValidationError {
	var errors []ValidationError

	if e.TargetPrice <= 0 || e.TargetPrice > 1 {
		errors = append(errors, ValidationError{
			Field:   "engine.target_price",
			Message: "must be in (0, 1]",
		})
	}
	if e.MinAmountUSDC < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.min_amount_usdc",
			Message: "must be non-negative",
		})
	}
	if e.SubmitAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "engine.submit_attempts",
			Message: "must be at least 1",
		})
	}
	if e.SubmitRetryDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.submit_retry_delay",
			Message: "must be non-negative",
		})
	}
	if e.CallTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "engine.call_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateWatcher(w *WatcherConfig) []ValidationError {
	var errors []ValidationError

	if w.ReconnectBackoff < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "watcher.reconnect_backoff",
			Message: "must be at least 1 second",
		})
	}
	if w.ResubscribeSlack < 0 {
		errors = append(errors, ValidationError{
			Field:   "watcher.resubscribe_slack",
			Message: "must be non-negative",
		})
	}
	if w.ResolveTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "watcher.resolve_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateSettlement(s *SettlementConfig) []ValidationError {
	var errors []ValidationError

	if s.SweepInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "settlement.sweep_interval",
			Message: "must be at least 1 second",
		})
	}
	if s.CallTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "settlement.call_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Enabled && (hs.Port < 1 || hs.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: "must be between 1 and 65535",
		})
	}

	return errors
}

// Cycle lengths the recurring market families actually spawn on.
var allowedIntervals = map[int64]bool{60: true, 300: true, 900: true, 3600: true}

// Validate checks one strategy spec for invalid values.
func (s *StrategySpec) Validate() ValidationResult {
	var errors []ValidationError
	field := func(name string) string {
		return fmt.Sprintf("strategies[%s].%s", s.ID, name)
	}

	if s.ID == "" {
		errors = append(errors, ValidationError{
			Field:   "strategies[].id",
			Message: "must not be empty",
		})
	}
	if s.SlugTemplate == "" {
		errors = append(errors, ValidationError{
			Field:   field("slug_template"),
			Message: "must not be empty",
		})
	}
	if !allowedIntervals[s.IntervalSeconds] {
		errors = append(errors, ValidationError{
			Field:   field("interval_seconds"),
			Message: "must be one of 60, 300, 900, 3600",
		})
	}
	if s.WindowStartSeconds < 0 || s.WindowStartSeconds > s.WindowEndSeconds || s.WindowEndSeconds > s.IntervalSeconds {
		errors = append(errors, ValidationError{
			Field:   field("window_start_seconds"),
			Message: "window must satisfy 0 <= start <= end <= interval",
		})
	}
	if s.MinPrice < 0 || s.MinPrice > s.MaxPrice || s.MaxPrice > 1 {
		errors = append(errors, ValidationError{
			Field:   field("min_price"),
			Message: "price band must satisfy 0 <= min <= max <= 1",
		})
	}

	switch s.AmountMode {
	case "RATIO":
		if s.AmountValue <= 0 || s.AmountValue > 1 {
			errors = append(errors, ValidationError{
				Field:   field("amount_value"),
				Message: "ratio must be in (0, 1]",
			})
		}
	case "FIXED":
		if s.AmountValue <= 0 {
			errors = append(errors, ValidationError{
				Field:   field("amount_value"),
				Message: "fixed amount must be positive",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   field("amount_mode"),
			Message: "must be RATIO or FIXED",
		})
	}

	switch strings.ToUpper(s.MinSpreadMode) {
	case "", "NONE":
	case "FIXED":
		if s.MinSpreadValue <= 0 {
			errors = append(errors, ValidationError{
				Field:   field("min_spread_value"),
				Message: "fixed spread must be positive",
			})
		}
		if s.Symbol == "" {
			errors = append(errors, ValidationError{
				Field:   field("symbol"),
				Message: "required when min_spread_mode is FIXED or AUTO",
			})
		}
	case "AUTO":
		if s.Symbol == "" {
			errors = append(errors, ValidationError{
				Field:   field("symbol"),
				Message: "required when min_spread_mode is FIXED or AUTO",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   field("min_spread_mode"),
			Message: "must be NONE, FIXED or AUTO",
		})
	}

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}
