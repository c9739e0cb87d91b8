package rewards

import "time"

type RuleStatus string

const (
	RuleActive   RuleStatus = "active"
	RuleInactive RuleStatus = "inactive"
)

// Правило: событие -> условия -> действия
type Rule struct {
	ID              string           `json:"id" yaml:"id"`
	Name            string           `json:"name" yaml:"name"`
	Status          RuleStatus       `json:"status" yaml:"status"`
	TriggerEvent    string           `json:"trigger_event" yaml:"trigger_event"`
	Priority        int              `json:"priority" yaml:"priority"` // меньше - раньше
	Conditions      []ConditionGroup `json:"conditions" yaml:"conditions"`     // группы через OR
	RewardLogic     []RewardAction   `json:"reward_logic" yaml:"reward_logic"` // выполняются по порядку
	TimeConstraints *TimeConstraints `json:"time_constraints,omitempty" yaml:"time_constraints,omitempty"`
}

// Условия внутри группы через AND
type ConditionGroup []Condition

type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

type ActionType string

const (
	ActionGrantCoins     ActionType = "grant_coins"
	ActionMultiplyCoins  ActionType = "multiply_coins"
	ActionGrantStars     ActionType = "grant_stars"
	ActionApplyPromotion ActionType = "apply_promotion"
	ActionCustomFunction ActionType = "custom_function"
)

type RewardAction struct {
	Type       ActionType     `json:"type" yaml:"type"`
	Parameters map[string]any `json:"parameters" yaml:"parameters"`
}

type TimeConstraints struct {
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	ValidFrom  *time.Time `json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
}

// Active reports whether the constraints allow evaluation at now.
func (t *TimeConstraints) Active(now time.Time) bool {
	if t == nil || !t.Enabled {
		return true
	}
	if t.ValidFrom != nil && now.Before(*t.ValidFrom) {
		return false
	}
	if t.ValidUntil != nil && now.After(*t.ValidUntil) {
		return false
	}
	return true
}
