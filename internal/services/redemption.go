package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	config "github.com/glkeru/rewards/internal/config"
	interf "github.com/glkeru/rewards/internal/interfaces"
	models "github.com/glkeru/rewards/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Состояния обработки запроса
type State string

const (
	StateReceived          State = "RECEIVED"
	StateValidated         State = "VALIDATED"
	StateNeedsConfirmation State = "NEEDS_CONFIRMATION"
	StateConfirmed         State = "CONFIRMED"
	StateExecuted          State = "EXECUTED"
	StateResponded         State = "RESPONDED"
	StateRejected          State = "REJECTED"
)

// Общая часть всех ответов
type Outcome struct {
	Success bool   `json:"success"`
	State   State  `json:"state"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Хранилища и внешние сервисы
type Deps struct {
	Students   interf.StudentStorage
	Catalog    interf.CatalogStorage
	Rules      interf.RuleStorage
	Ledger     interf.LedgerStorage
	Cache      interf.CacheStorage    // может быть nil
	Dispatcher interf.ReloadDispatcher // может быть nil
}

type RewardsService struct {
	students      interf.StudentStorage
	catalog       interf.CatalogStorage
	ledgerDB      interf.LedgerStorage
	cache         interf.CacheStorage
	ledger        *Ledger
	engine        *RewardEngine
	rules         *RuleEngineService
	notifications *NotificationLog
	logger        *zap.Logger

	timeout    time.Duration
	dailyCoins int64
	confirmTTL time.Duration
}

func NewRewardsService(deps Deps, logger *zap.Logger) *RewardsService {
	ledger := NewLedger(deps.Ledger, deps.Cache, logger)
	engine := NewRewardEngine(ledger, deps.Dispatcher, logger)
	return &RewardsService{
		students:      deps.Students,
		catalog:       deps.Catalog,
		ledgerDB:      deps.Ledger,
		cache:         deps.Cache,
		ledger:        ledger,
		engine:        engine,
		rules:         NewRuleEngineService(deps.Rules, deps.Students, deps.Catalog, ledger, engine, logger),
		notifications: NewNotificationLog(deps.Ledger, ledger),
		logger:        logger,

		// config
		timeout:    config.Duration("REWARDS_STORE_TIMEOUT", 5*time.Second),
		dailyCoins: int64(config.Int("REWARDS_DAILY_COINS", 10)),
		confirmTTL: config.Duration("REWARDS_CONFIRM_TTL", 5*time.Minute),
	}
}

// Подмена часов для тестов и пересчетов задним числом
func (s *RewardsService) SetClock(clock func() time.Time) {
	s.ledger.clock = clock
}

func (s *RewardsService) RuleEngine() *RuleEngineService {
	return s.rules
}

// Перевод ошибки в ответ; конфигурация и хранилище - в лог ошибок
func (s *RewardsService) reject(action string, err error) Outcome {
	code := models.ErrorCode(err)
	switch code {
	case models.CodePersistence, models.CodeConfiguration, models.CodeUnsupportedType:
		s.logger.Error(action,
			zap.String("service", "RewardsService"),
			zap.String("code", code),
			zap.Error(err),
		)
	default:
		s.logger.Info(action,
			zap.String("state", string(StateRejected)),
			zap.String("code", code),
			zap.String("reason", err.Error()),
		)
	}
	countAction(action, code)
	message := err.Error()
	if code == models.CodePersistence {
		message = "operation was not completed, please retry"
	}
	return Outcome{State: StateRejected, Code: code, Error: message}
}

func responded(action string) Outcome {
	countAction(action, "")
	return Outcome{Success: true, State: StateResponded}
}

// Идентификатор с @ - email, иначе id
func (s *RewardsService) resolveStudent(ctx context.Context, identifier string) (models.Student, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return models.Student{}, &models.ValidationError{Field: "student", Message: "is required"}
	}
	if strings.Contains(identifier, "@") {
		return s.students.FindStudentByEmail(ctx, identifier)
	}
	return s.students.GetStudent(ctx, identifier)
}

// quests

type PlayQuestRequest struct {
	Student string `json:"student"`
	QuestID string `json:"quest_id"`
}

type PlayQuestResponse struct {
	Outcome
	NewPoints   int64  `json:"new_points"`
	NewCoins    int64  `json:"new_coins"`
	UnreadCount int    `json:"unread_count"`
	Message     string `json:"message,omitempty"`
}

// Выполнение квеста: без подтверждения, всегда начисление
func (s *RewardsService) PlayQuest(ctx context.Context, req PlayQuestRequest) (resp PlayQuestResponse) {
	const action = "play_quest"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// RECEIVED
	if strings.TrimSpace(req.QuestID) == "" {
		resp.Outcome = s.reject(action, &models.ValidationError{Field: "quest_id", Message: "is required"})
		return
	}
	if strings.TrimSpace(req.Student) == "" {
		resp.Outcome = s.reject(action, &models.ValidationError{Field: "student", Message: "is required"})
		return
	}

	// VALIDATED
	var (
		student models.Student
		quest   models.Quest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		student, err = s.resolveStudent(gctx, req.Student)
		return
	})
	g.Go(func() (err error) {
		quest, err = s.catalog.GetQuest(gctx, req.QuestID)
		return
	})
	if err := g.Wait(); err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	if quest.PointsReward < 0 || quest.CoinsReward < 0 {
		resp.Outcome = s.reject(action, &models.ConfigurationError{
			Code: models.CodeConfiguration, Subject: "quest " + quest.ID, Err: errors.New("rewards must not be negative"),
		})
		return
	}
	if err := s.checkItem(ctx, student.ID, quest.ID, models.ClaimQuest, quest.Policy); err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}

	// EXECUTED
	message := fmt.Sprintf("You completed %q and earned %d points and %d coins.", quest.Name, quest.PointsReward, quest.CoinsReward)
	balance, err := s.ledger.Update(ctx, student.ID, func(ctx context.Context, tx interf.LedgerTx, st *models.Student, now time.Time) (string, error) {
		if err := CheckWindow(quest.Policy, now); err != nil {
			return "", err
		}
		claim, err := tx.Claim(ctx, quest.ID, models.ClaimQuest)
		if err != nil {
			return "", err
		}
		if err := CheckClaims(quest.Policy, claim, now); err != nil {
			return "", err
		}
		changes := []change{{models.CurrencyPoints, quest.PointsReward}, {models.CurrencyCoins, quest.CoinsReward}}
		if err := applyChanges(ctx, tx, st, changes, "quest:"+quest.ID, now); err != nil {
			return "", err
		}
		return message, tx.AppendClaim(ctx, quest.ID, models.ClaimQuest, now)
	})
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}

	// RESPONDED
	resp.Outcome = responded(action)
	resp.NewPoints = balance.Points
	resp.NewCoins = balance.Coins
	resp.UnreadCount = balance.UnreadCount
	resp.Message = message
	return
}

// Предварительная проверка доступности без блокировки
func (s *RewardsService) checkItem(ctx context.Context, studentID string, itemID string, kind models.ClaimKind, policy models.Policy) error {
	now := s.ledger.clock()
	if err := CheckWindow(policy, now); err != nil {
		return err
	}
	claim, err := s.ledgerDB.GetClaim(ctx, studentID, itemID, kind)
	if err != nil {
		return err
	}
	return CheckClaims(policy, claim, now)
}

// rewards

type RedeemRequest struct {
	Student           string `json:"student"`
	RewardID          string `json:"reward_id"`
	Confirmed         bool   `json:"confirmed"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
}

// Данные для подтверждения reload
type ConfirmationPayload struct {
	Message        string `json:"message"`
	PhoneNumber    string `json:"phone_number"`
	ReloadValue    int64  `json:"reload_value"`
	CoinsCost      int64  `json:"coins_cost"`
	CurrentCoins   int64  `json:"current_coins"`
	RemainingCoins int64  `json:"remaining_coins"`
	Token          string `json:"confirmation_token,omitempty"`
}

type RedeemResponse struct {
	Outcome
	NeedsConfirmation bool                 `json:"needs_confirmation"`
	Confirmation      *ConfirmationPayload `json:"confirmation,omitempty"`
	NewPoints         int64                `json:"new_points"`
	NewCoins          int64                `json:"new_coins"`
	NewStars          int64                `json:"new_stars"`
	UnreadCount       int                  `json:"unread_count"`
	ReloadValue       int64                `json:"reload_value,omitempty"`
	Message           string               `json:"message,omitempty"`
}

func (s *RewardsService) RedeemReward(ctx context.Context, req RedeemRequest) (resp RedeemResponse) {
	const action = "redeem_reward"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// RECEIVED
	if strings.TrimSpace(req.RewardID) == "" {
		resp.Outcome = s.reject(action, &models.ValidationError{Field: "reward_id", Message: "is required"})
		return
	}
	if strings.TrimSpace(req.Student) == "" {
		resp.Outcome = s.reject(action, &models.ValidationError{Field: "student", Message: "is required"})
		return
	}

	// VALIDATED
	var (
		student models.Student
		item    models.RewardItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		student, err = s.resolveStudent(gctx, req.Student)
		return
	})
	g.Go(func() (err error) {
		item, err = s.catalog.GetRewardItem(gctx, req.RewardID)
		return
	})
	if err := g.Wait(); err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	if err := ValidateRewardItem(item); err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	if err := s.checkItem(ctx, student.ID, item.ID, models.ClaimReward, item.Policy); err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	err := CheckRequiredQuests(item, func(questID string) (int, error) {
		c, err := s.ledgerDB.GetClaim(ctx, student.ID, questID, models.ClaimQuest)
		return c.Count(), err
	})
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}

	if item.PromotionType == models.PromotionReload {
		// NEEDS_CONFIRMATION
		if !req.Confirmed {
			if student.Coins < item.RequiredCoins {
				resp.Outcome = s.reject(action, &models.InsufficientBalanceError{
					Currency: models.CurrencyCoins, Required: item.RequiredCoins, Available: student.Coins,
				})
				return
			}
			payload, err := s.confirmation(ctx, student, item)
			if err != nil {
				resp.Outcome = s.reject(action, err)
				return
			}
			countAction(action, string(StateNeedsConfirmation))
			resp.Outcome = Outcome{State: StateNeedsConfirmation}
			resp.NeedsConfirmation = true
			resp.Confirmation = &payload
			resp.ReloadValue = item.ReloadValue
			return
		}
		// CONFIRMED
		if err := s.checkToken(ctx, req.ConfirmationToken, student, item); err != nil {
			resp.Outcome = s.reject(action, err)
			return
		}
	}

	// EXECUTED
	result, err := s.engine.Execute(ctx, student, item, true)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}

	// RESPONDED
	resp.Outcome = responded(action)
	resp.NewPoints = result.NewPoints
	resp.NewCoins = result.NewCoins
	resp.NewStars = result.NewStars
	resp.UnreadCount = result.UnreadCount
	resp.ReloadValue = result.ReloadValue
	resp.Message = result.Message
	return
}

// Данные подтверждения и одноразовый токен, если есть кэш
func (s *RewardsService) confirmation(ctx context.Context, student models.Student, item models.RewardItem) (ConfirmationPayload, error) {
	payload := ConfirmationPayload{
		Message:        fmt.Sprintf("Confirm reload of %d to %s for %d coins.", item.ReloadValue, student.MobileNumber, item.RequiredCoins),
		PhoneNumber:    student.MobileNumber,
		ReloadValue:    item.ReloadValue,
		CoinsCost:      item.RequiredCoins,
		CurrentCoins:   student.Coins,
		RemainingCoins: student.Coins - item.RequiredCoins,
	}
	if s.cache == nil {
		return payload, nil
	}
	conf := interf.Confirmation{
		Token:     uuid.NewString(),
		StudentID: student.ID,
		RewardID:  item.ID,
		CoinsCost: item.RequiredCoins,
	}
	if err := s.cache.SaveConfirmation(ctx, conf, s.confirmTTL); err != nil {
		return payload, &models.PersistenceError{Op: "save confirmation", Err: err}
	}
	payload.Token = conf.Token
	return payload, nil
}

// Токен не обязателен; если передан - должен совпасть со студентом, наградой и ценой
func (s *RewardsService) checkToken(ctx context.Context, token string, student models.Student, item models.RewardItem) error {
	if token == "" {
		return nil
	}
	if s.cache == nil {
		return &models.ConfirmationError{Message: "confirmation tokens are not supported"}
	}
	conf, err := s.cache.TakeConfirmation(ctx, token)
	if errors.Is(err, models.ErrNotFound) {
		return &models.ConfirmationError{Message: "confirmation token is invalid or expired"}
	} else if err != nil {
		return &models.PersistenceError{Op: "take confirmation", Err: err}
	}
	if conf.StudentID != student.ID || conf.RewardID != item.ID {
		return &models.ConfirmationError{Message: "confirmation token does not match the request"}
	}
	if conf.CoinsCost != item.RequiredCoins {
		return &models.ConfirmationError{Message: "reward cost changed, please confirm again"}
	}
	return nil
}

// notifications

type NotificationsResponse struct {
	Outcome
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
}

// Новые сверху
func (s *RewardsService) FetchNotifications(ctx context.Context, studentIdentifier string) (resp NotificationsResponse) {
	const action = "fetch_notifications"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	student, err := s.resolveStudent(ctx, studentIdentifier)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	list, err := s.notifications.List(ctx, student.ID)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	resp.Outcome = responded(action)
	resp.Notifications = list
	for _, n := range list {
		if !n.IsRead {
			resp.UnreadCount++
		}
	}
	return
}

type MarkReadRequest struct {
	Student string `json:"student"`
	ID      string `json:"id,omitempty"`
	Index   *int   `json:"index,omitempty"`
	All     bool   `json:"mark_all,omitempty"`
}

type MarkReadResponse struct {
	Outcome
	UnreadCount int `json:"unread_count"`
}

func (s *RewardsService) MarkNotificationRead(ctx context.Context, req MarkReadRequest) (resp MarkReadResponse) {
	const action = "mark_notification_read"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	student, err := s.resolveStudent(ctx, req.Student)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	unread, err := s.notifications.MarkRead(ctx, student.ID, MarkRead{ID: req.ID, Index: req.Index, All: req.All})
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	resp.Outcome = responded(action)
	resp.UnreadCount = unread
	return
}

// rules

type EvaluateRequest struct {
	TriggerEvent string         `json:"trigger_event"`
	Student      string         `json:"user_id"`
	EventData    map[string]any `json:"event_data,omitempty"`
}

type EvaluateResponse struct {
	Outcome
	RewardsGranted []GrantedReward `json:"rewards_granted"`
	Notifications  []string        `json:"notifications"`
}

// Success в ответе - сработало хотя бы одно правило
func (s *RewardsService) EvaluateRules(ctx context.Context, req EvaluateRequest) (resp EvaluateResponse) {
	const action = "evaluate_rules"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp.RewardsGranted = []GrantedReward{}
	resp.Notifications = []string{}
	if strings.TrimSpace(req.TriggerEvent) == "" {
		resp.Outcome = s.reject(action, &models.ValidationError{Field: "trigger_event", Message: "is required"})
		return
	}
	student, err := s.resolveStudent(ctx, req.Student)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	rules, err := s.rules.GetMatchingRules(ctx, req.TriggerEvent)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	result, err := s.rules.EvaluateAndExecute(ctx, student, rules, req.EventData)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	countAction(action, "")
	resp.Outcome = Outcome{Success: result.Success, State: StateResponded}
	resp.RewardsGranted = result.RewardsGranted
	resp.Notifications = result.Notifications
	return
}

// daily reward

type DailyRewardResponse struct {
	Outcome
	NewCoins      int64      `json:"new_coins"`
	UnreadCount   int        `json:"unread_count"`
	Message       string     `json:"message,omitempty"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
}

const dailyRewardPeriod = 24 * time.Hour

// Ежедневная награда: раз в 24 часа по last_daily_reward_claimed
func (s *RewardsService) ClaimDailyReward(ctx context.Context, studentIdentifier string) (resp DailyRewardResponse) {
	const action = "claim_daily_reward"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	student, err := s.resolveStudent(ctx, studentIdentifier)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	message := fmt.Sprintf("You claimed your daily reward of %d coins.", s.dailyCoins)
	var next time.Time
	balance, err := s.ledger.Update(ctx, student.ID, func(ctx context.Context, tx interf.LedgerTx, st *models.Student, now time.Time) (string, error) {
		if last := st.LastDailyRewardClaimed; last != nil {
			if elapsed := now.Sub(*last); elapsed < dailyRewardPeriod {
				next = last.Add(dailyRewardPeriod)
				return "", &models.EligibilityError{Reason: models.ReasonCooldown, Remaining: dailyRewardPeriod - elapsed}
			}
		}
		claimed := now
		st.LastDailyRewardClaimed = &claimed
		next = now.Add(dailyRewardPeriod)
		return message, applyChanges(ctx, tx, st, []change{{models.CurrencyCoins, s.dailyCoins}}, "daily_reward", now)
	})
	if !next.IsZero() {
		resp.NextAvailable = &next
	}
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	resp.Outcome = responded(action)
	resp.NewCoins = balance.Coins
	resp.UnreadCount = balance.UnreadCount
	resp.Message = message
	return
}

// balance

type BalanceResponse struct {
	Outcome
	models.Balance
}

func (s *RewardsService) GetBalance(ctx context.Context, studentIdentifier string) (resp BalanceResponse) {
	const action = "balance"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	student, err := s.resolveStudent(ctx, studentIdentifier)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	balance, err := s.ledger.Balance(ctx, student)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	resp.Outcome = responded(action)
	resp.Balance = balance
	return
}

type TransactionsResponse struct {
	Outcome
	Transactions []models.Transaction `json:"transactions"`
}

// История операций за период
func (s *RewardsService) Transactions(ctx context.Context, studentIdentifier string, from time.Time, to time.Time) (resp TransactionsResponse) {
	const action = "transactions"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	student, err := s.resolveStudent(ctx, studentIdentifier)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	if to.IsZero() {
		to = s.ledger.clock()
	}
	if from.After(to) {
		resp.Outcome = s.reject(action, &models.ValidationError{Field: "from", Message: "must not be after to"})
		return
	}
	list, err := s.ledger.Transactions(ctx, student.ID, from, to)
	if err != nil {
		resp.Outcome = s.reject(action, err)
		return
	}
	resp.Outcome = responded(action)
	resp.Transactions = list
	if resp.Transactions == nil {
		resp.Transactions = []models.Transaction{}
	}
	return
}
