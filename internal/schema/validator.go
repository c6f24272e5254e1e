package schema

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// entityCodePattern defines the valid format for entity codes.
// Codes are alphanumeric with dashes and underscores, e.g. "PROD-0042".
var entityCodePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// locationPattern defines the valid format for location tags.
// Examples: "Almacen Principal", "Warehouse A - Shelf 1 - Level 2".
var locationPattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-áéíóúñÁÉÍÓÚÑ]+$`)

// Validator validates movements against the canonical schema.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("entity_code", func(fl validator.FieldLevel) bool {
		return ValidateEntityCode(fl.Field().String())
	})
	v.RegisterValidation("location_format", func(fl validator.FieldLevel) bool {
		return ValidateLocation(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates a movement against the canonical schema.
// Returns an error if validation fails.
func (v *Validator) Validate(m *Movement) error {
	if err := v.validate.Struct(m); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()

	if m.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if m.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", m.Timestamp, v.maxAge)
	}

	if m.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", m.Timestamp, v.maxFuture)
	}

	// Stock movements must carry a quantity
	if m.Action.IsStockMovement() && m.Quantity == 0 {
		return fmt.Errorf("quantity is required for %s movements", m.Action)
	}

	return nil
}

// ValidateEntityCode checks if an entity code matches the required format.
func ValidateEntityCode(code string) bool {
	return entityCodePattern.MatchString(code)
}

// ValidateLocation checks if a location tag matches the required format.
func ValidateLocation(location string) bool {
	return location != "" && len(location) <= 200 && locationPattern.MatchString(location)
}
