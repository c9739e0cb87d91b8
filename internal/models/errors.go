package rewards

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

// Коды ошибок в ответах
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeNotEligible         = "NOT_ELIGIBLE"
	CodeInsufficientCoins   = "INSUFFICIENT_COINS"
	CodeUnsupportedType     = "UNSUPPORTED_PROMOTION_TYPE"
	CodeConfiguration       = "CONFIGURATION_ERROR"
	CodePersistence         = "PERSISTENCE_ERROR"
	CodeConfirmationInvalid = "CONFIRMATION_INVALID"
)

// Причины отказа по доступности
const (
	ReasonNotYetAvailable  = "not yet available"
	ReasonExpired          = "expired"
	ReasonCooldown         = "cooldown"
	ReasonLimitReached     = "limit reached"
	ReasonQuestsIncomplete = "required quests not completed"
)

// ValidationError is returned for missing or malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// EligibilityError carries the specific reason a claim was refused.
type EligibilityError struct {
	Reason    string
	Remaining time.Duration // для cooldown
}

func (e *EligibilityError) Error() string {
	if e.Reason == ReasonCooldown && e.Remaining > 0 {
		return fmt.Sprintf("%s: %s remaining", e.Reason, e.Remaining.Round(time.Second))
	}
	return e.Reason
}

type InsufficientBalanceError struct {
	Currency  Currency
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s: required %d, available %d", e.Currency, e.Required, e.Available)
}

// ConfigurationError marks a broken rule, action or catalog entry.
type ConfigurationError struct {
	Code    string
	Subject string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Subject, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// PersistenceError means the atomic unit was not committed; the call may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type ConfirmationError struct {
	Message string
}

func (e *ConfirmationError) Error() string {
	return e.Message
}

// Код ошибки для ответа
func ErrorCode(err error) string {
	var (
		validation   *ValidationError
		notFound     *NotFoundError
		eligibility  *EligibilityError
		insufficient *InsufficientBalanceError
		config       *ConfigurationError
		confirmation *ConfirmationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return CodeInvalidInput
	case errors.As(err, &notFound), errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.As(err, &eligibility):
		return CodeNotEligible
	case errors.As(err, &insufficient):
		return CodeInsufficientCoins
	case errors.As(err, &config):
		if config.Code != "" {
			return config.Code
		}
		return CodeConfiguration
	case errors.As(err, &confirmation):
		return CodeConfirmationInvalid
	default:
		return CodePersistence
	}
}
