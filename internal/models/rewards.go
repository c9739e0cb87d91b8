package rewards

import (
	"time"
)

// Валюты баланса
type Currency string

const (
	CurrencyPoints Currency = "points"
	CurrencyCoins  Currency = "coins"
	CurrencyStars  Currency = "stars"
)

// Студент
type Student struct {
	ID                     string     `bson:"id" json:"id" yaml:"id"`
	Email                  string     `bson:"email" json:"email" yaml:"email"`
	Points                 int64      `bson:"points" json:"points" yaml:"points"`
	Coins                  int64      `bson:"coins" json:"coins" yaml:"coins"`
	Stars                  int64      `bson:"stars" json:"stars" yaml:"stars"`
	MobileNumber           string     `bson:"mobile_number" json:"mobile_number" yaml:"mobile_number"`
	LastDailyRewardClaimed *time.Time `bson:"last_daily_reward_claimed" json:"last_daily_reward_claimed" yaml:"last_daily_reward_claimed,omitempty"`
}

// Текущие счетчики
func (s Student) Balance() Balance {
	return Balance{Points: s.Points, Coins: s.Coins, Stars: s.Stars}
}

// Значение счетчика по валюте
func (s Student) Get(c Currency) int64 {
	switch c {
	case CurrencyPoints:
		return s.Points
	case CurrencyCoins:
		return s.Coins
	case CurrencyStars:
		return s.Stars
	}
	return 0
}

// Установить значение счетчика
func (s *Student) Set(c Currency, value int64) {
	switch c {
	case CurrencyPoints:
		s.Points = value
	case CurrencyCoins:
		s.Coins = value
	case CurrencyStars:
		s.Stars = value
	}
}

type Balance struct {
	Points      int64 `json:"points"`
	Coins       int64 `json:"coins"`
	Stars       int64 `json:"stars"`
	UnreadCount int   `json:"unread_count"`
}

// Уведомление. IsRead меняется только false -> true
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	Timestamp time.Time `json:"timestamp"`
	Index     int       `json:"index"` // позиция в исходной последовательности на момент чтения
}

// Ограничения на получение: окно действия, пауза между получениями, лимит
type Policy struct {
	ValidFrom       *time.Time `bson:"valid_from,omitempty" json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	ValidUntil      *time.Time `bson:"valid_until,omitempty" json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
	CooldownPeriod  int64      `bson:"cooldown_period" json:"cooldown_period" yaml:"cooldown_period"`    // секунды, 0 - без паузы
	RedemptionLimit int        `bson:"redemption_limit" json:"redemption_limit" yaml:"redemption_limit"` // 0 - без ограничений
}

func (p Policy) Cooldown() time.Duration {
	return time.Duration(p.CooldownPeriod) * time.Second
}

type CompletionCriteria string

const (
	CriteriaAction CompletionCriteria = "action"
	CriteriaTime   CompletionCriteria = "time"
	CriteriaEvent  CompletionCriteria = "event"
)

// Квест
type Quest struct {
	ID                 string             `bson:"id" json:"id" yaml:"id"`
	Key                string             `bson:"key" json:"key" yaml:"key"`
	Name               string             `bson:"name" json:"name" yaml:"name"`
	Description        string             `bson:"description" json:"description" yaml:"description"`
	PointsReward       int64              `bson:"points_reward" json:"points_reward" yaml:"points_reward"`
	CoinsReward        int64              `bson:"coins_reward" json:"coins_reward" yaml:"coins_reward"`
	CompletionCriteria CompletionCriteria `bson:"completion_criteria" json:"completion_criteria" yaml:"completion_criteria"`
	TargetValue        int64              `bson:"target_value" json:"target_value" yaml:"target_value"`
	TimeLimit          int64              `bson:"time_limit" json:"time_limit" yaml:"time_limit"`
	Policy             `bson:",inline" yaml:",inline"`
}

type PromotionType string

const (
	PromotionReload         PromotionType = "reload"
	PromotionMultiplication PromotionType = "multiplication"
	PromotionAddition       PromotionType = "addition"
)

func (p PromotionType) IsValid() bool {
	switch p {
	case PromotionReload, PromotionMultiplication, PromotionAddition:
		return true
	default:
		return false
	}
}

// На какие счетчики действует акция
type Target string

const (
	TargetCoins  Target = "coins"
	TargetStars  Target = "stars"
	TargetPoints Target = "points"
	TargetBoth   Target = "both"
)

// Награда (акция)
type RewardItem struct {
	ID            string        `bson:"id" json:"id" yaml:"id"`
	Name          string        `bson:"name" json:"name" yaml:"name"`
	PromotionType PromotionType `bson:"promotion_type" json:"promotion_type" yaml:"promotion_type"`
	Policy        `bson:",inline" yaml:",inline"`

	// reload
	RequiredCoins int64 `bson:"required_coins,omitempty" json:"required_coins,omitempty" yaml:"required_coins,omitempty"`
	ReloadValue   int64 `bson:"reload_value,omitempty" json:"reload_value,omitempty" yaml:"reload_value,omitempty"`

	// multiplication
	MultiplicationType   Target   `bson:"multiplication_type,omitempty" json:"multiplication_type,omitempty" yaml:"multiplication_type,omitempty"`
	MultiplicationFactor float64  `bson:"multiplication_factor,omitempty" json:"multiplication_factor,omitempty" yaml:"multiplication_factor,omitempty"`
	RequiredQuests       []string `bson:"required_quests,omitempty" json:"required_quests,omitempty" yaml:"required_quests,omitempty"`
	QuestCompletionCount int      `bson:"quest_completion_count,omitempty" json:"quest_completion_count,omitempty" yaml:"quest_completion_count,omitempty"` // 0 - все

	// addition
	AdditionalType   Target `bson:"additional_type,omitempty" json:"additional_type,omitempty" yaml:"additional_type,omitempty"`
	AdditionalReward int64  `bson:"additional_reward,omitempty" json:"additional_reward,omitempty" yaml:"additional_reward,omitempty"`
}

type ClaimKind string

const (
	ClaimReward ClaimKind = "reward"
	ClaimQuest  ClaimKind = "quest"
)

// История получений одной награды/квеста студентом
type ClaimRecord struct {
	StudentID         string      `json:"student_id"`
	ItemID            string      `json:"item_id"`
	Kind              ClaimKind   `json:"kind"`
	ClaimedTimestamps []time.Time `json:"claimed_timestamps"`
}

func (c ClaimRecord) Count() int {
	return len(c.ClaimedTimestamps)
}

// Время последнего получения, нулевое если не получали
func (c ClaimRecord) MostRecent() time.Time {
	var last time.Time
	for _, t := range c.ClaimedTimestamps {
		if t.After(last) {
			last = t
		}
	}
	return last
}

// Транзакция по счету
type Transaction struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	Currency     Currency  `json:"currency"`
	Delta        int64     `json:"delta"`
	BalanceAfter int64     `json:"balance_after"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}
