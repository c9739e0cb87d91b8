package rewards

import (
	"context"
	"time"

	models "github.com/glkeru/rewards/internal/models"
)

//go:generate mockgen -destination=./../services/mock_rewards_test.go -package=rewards . RuleStorage,ReloadDispatcher

type StudentStorage interface {
	GetStudent(ctx context.Context, id string) (models.Student, error)
	FindStudentByEmail(ctx context.Context, email string) (models.Student, error)
	CreateStudent(ctx context.Context, student models.Student) (id string, err error)
}

type CatalogStorage interface {
	GetQuest(ctx context.Context, id string) (models.Quest, error)
	GetRewardItem(ctx context.Context, id string) (models.RewardItem, error)
	ListQuests(ctx context.Context) ([]models.Quest, error)
	ListRewardItems(ctx context.Context) ([]models.RewardItem, error)
	SaveQuest(ctx context.Context, quest models.Quest) (id string, err error)
	SaveRewardItem(ctx context.Context, item models.RewardItem) (id string, err error)
}

type RuleStorage interface {
	GetAllRules(ctx context.Context) ([]models.Rule, error)
	GetActiveRules(ctx context.Context, trigger string) ([]models.Rule, error)
	SaveRule(ctx context.Context, rule models.Rule) (id string, err error)
	GetRule(ctx context.Context, ruleId string) (models.Rule, error)
}

// Изменения в рамках LedgerTx фиксируются вместе или не фиксируются совсем
type LedgerStorage interface {
	WithStudent(ctx context.Context, studentID string, fn func(tx LedgerTx) error) error
	GetClaim(ctx context.Context, studentID string, itemID string, kind models.ClaimKind) (models.ClaimRecord, error)
	ListNotifications(ctx context.Context, studentID string) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, studentID string, notificationID string) (unread int, err error)
	MarkNotificationReadAt(ctx context.Context, studentID string, index int) (unread int, err error)
	MarkAllNotificationsRead(ctx context.Context, studentID string) (unread int, err error)
	UnreadCount(ctx context.Context, studentID string) (int, error)
	GetTnx(ctx context.Context, studentID string, from time.Time, to time.Time) ([]models.Transaction, error)
}

// Операции под блокировкой студента
type LedgerTx interface {
	Student() models.Student
	UpdateStudent(ctx context.Context, student models.Student) error
	AppendTnx(ctx context.Context, tnx models.Transaction) error
	Claim(ctx context.Context, itemID string, kind models.ClaimKind) (models.ClaimRecord, error)
	AppendClaim(ctx context.Context, itemID string, kind models.ClaimKind, at time.Time) error
	AppendNotification(ctx context.Context, n models.Notification) error
	UnreadCount(ctx context.Context) (int, error)
}

// Подтверждение списания для reload
type Confirmation struct {
	Token     string `json:"token"`
	StudentID string `json:"student_id"`
	RewardID  string `json:"reward_id"`
	CoinsCost int64  `json:"coins_cost"`
}

type CacheStorage interface {
	GetBalance(ctx context.Context, studentID string) (models.Balance, error)
	SetBalance(ctx context.Context, studentID string, balance models.Balance) error
	InvalidateBalance(ctx context.Context, studentID string) error
	SaveConfirmation(ctx context.Context, c Confirmation, ttl time.Duration) error
	TakeConfirmation(ctx context.Context, token string) (Confirmation, error)
}

// Заявка на пополнение для внешнего оператора
type ReloadOrder struct {
	StudentID    string    `json:"student_id"`
	RewardID     string    `json:"reward_id"`
	MobileNumber string    `json:"mobile_number"`
	ReloadValue  int64     `json:"reload_value"`
	CoinsCost    int64     `json:"coins_cost"`
	ClaimedAt    time.Time `json:"claimed_at"`
}

type ReloadDispatcher interface {
	DispatchReload(ctx context.Context, order ReloadOrder) error
}
