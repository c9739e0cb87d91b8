package rewards

import (
	"context"
	"fmt"
	"time"

	interf "github.com/glkeru/rewards/internal/interfaces"
	models "github.com/glkeru/rewards/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Результат применения награды
type ExecutionResult struct {
	Success           bool   `json:"success"`
	NeedsConfirmation bool   `json:"needs_confirmation,omitempty"`
	NewPoints         int64  `json:"new_points"`
	NewCoins          int64  `json:"new_coins"`
	NewStars          int64  `json:"new_stars"`
	UnreadCount       int    `json:"unread_count"`
	ReloadValue       int64  `json:"reload_value,omitempty"`
	Message           string `json:"message,omitempty"`
	Error             string `json:"error,omitempty"`
}

func (r *ExecutionResult) fromBalance(b models.Balance) {
	r.NewPoints = b.Points
	r.NewCoins = b.Coins
	r.NewStars = b.Stars
	r.UnreadCount = b.UnreadCount
}

type RewardEngine struct {
	ledger     *Ledger
	dispatcher interf.ReloadDispatcher
	logger     *zap.Logger
}

// dispatcher может быть nil - тогда пополнение только фиксируется
func NewRewardEngine(ledger *Ledger, dispatcher interf.ReloadDispatcher, logger *zap.Logger) *RewardEngine {
	return &RewardEngine{ledger, dispatcher, logger}
}

// Проверка настроек награды до изменения баланса
func ValidateRewardItem(item models.RewardItem) error {
	bad := func(format string, a ...any) error {
		return &models.ConfigurationError{Code: models.CodeConfiguration, Subject: "reward " + item.ID, Err: fmt.Errorf(format, a...)}
	}
	switch item.PromotionType {
	case models.PromotionAddition:
		switch item.AdditionalType {
		case models.TargetCoins, models.TargetPoints, models.TargetBoth:
		default:
			return bad("additional_type %q is not supported", item.AdditionalType)
		}
		if item.AdditionalReward < 0 {
			return bad("additional_reward must not be negative")
		}
	case models.PromotionMultiplication:
		switch item.MultiplicationType {
		case models.TargetCoins, models.TargetStars, models.TargetBoth:
		default:
			return bad("multiplication_type %q is not supported", item.MultiplicationType)
		}
		if item.MultiplicationFactor <= 0 {
			return bad("multiplication_factor must be positive")
		}
	case models.PromotionReload:
		if item.RequiredCoins < 0 || item.ReloadValue < 0 {
			return bad("required_coins and reload_value must not be negative")
		}
	default:
		return &models.ConfigurationError{
			Code:    models.CodeUnsupportedType,
			Subject: "reward " + item.ID,
			Err:     fmt.Errorf("promotion type %q is not supported", item.PromotionType),
		}
	}
	return nil
}

// Изменения баланса по типу акции
func promotionChanges(student models.Student, item models.RewardItem) ([]change, error) {
	switch item.PromotionType {
	case models.PromotionAddition:
		var changes []change
		if item.AdditionalType == models.TargetPoints || item.AdditionalType == models.TargetBoth {
			changes = append(changes, change{models.CurrencyPoints, item.AdditionalReward})
		}
		if item.AdditionalType == models.TargetCoins || item.AdditionalType == models.TargetBoth {
			changes = append(changes, change{models.CurrencyCoins, item.AdditionalReward})
		}
		return changes, nil
	case models.PromotionMultiplication:
		var changes []change
		if item.MultiplicationType == models.TargetCoins || item.MultiplicationType == models.TargetBoth {
			changes = append(changes, multiplyChange(student, models.CurrencyCoins, item.MultiplicationFactor))
		}
		if item.MultiplicationType == models.TargetStars || item.MultiplicationType == models.TargetBoth {
			changes = append(changes, multiplyChange(student, models.CurrencyStars, item.MultiplicationFactor))
		}
		return changes, nil
	case models.PromotionReload:
		if student.Coins < item.RequiredCoins {
			return nil, &models.InsufficientBalanceError{Currency: models.CurrencyCoins, Required: item.RequiredCoins, Available: student.Coins}
		}
		return []change{{models.CurrencyCoins, -item.RequiredCoins}}, nil
	}
	return nil, ValidateRewardItem(item)
}

func promotionMessage(item models.RewardItem) string {
	switch item.PromotionType {
	case models.PromotionReload:
		return fmt.Sprintf("Your reload of %d for %q is pending.", item.ReloadValue, item.Name)
	case models.PromotionMultiplication:
		return fmt.Sprintf("You redeemed %q: your %s were multiplied by %g.", item.Name, item.MultiplicationType, item.MultiplicationFactor)
	default:
		return fmt.Sprintf("You redeemed %q and received %d %s.", item.Name, item.AdditionalReward, item.AdditionalType)
	}
}

// Применение награды. Для reload без подтверждения ничего не меняется.
// Доступность проверяется повторно под блокировкой студента.
func (e *RewardEngine) Execute(ctx context.Context, student models.Student, item models.RewardItem, confirmed bool) (result ExecutionResult, err error) {
	ctx, span := tracer.Start(ctx, "RewardEngine.Execute")
	span.SetAttributes(
		attribute.String("student", student.ID),
		attribute.String("reward", item.ID),
		attribute.String("promotion_type", string(item.PromotionType)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			result.Success = false
			result.Error = err.Error()
		}
		countAction("execute_"+string(item.PromotionType), models.ErrorCode(err))
		span.End()
	}()

	if err = ValidateRewardItem(item); err != nil {
		e.logger.Error("Reward config",
			zap.String("service", "Execute"),
			zap.String("reward", item.ID),
			zap.Error(err),
		)
		return result, err
	}
	if item.PromotionType == models.PromotionReload && !confirmed {
		result.NeedsConfirmation = true
		result.ReloadValue = item.ReloadValue
		result.fromBalance(student.Balance())
		return result, nil
	}

	var claimedAt time.Time
	var mobile string
	balance, err := e.ledger.Update(ctx, student.ID, func(ctx context.Context, tx interf.LedgerTx, s *models.Student, now time.Time) (string, error) {
		if err := CheckWindow(item.Policy, now); err != nil {
			return "", err
		}
		claim, err := tx.Claim(ctx, item.ID, models.ClaimReward)
		if err != nil {
			return "", err
		}
		if err := CheckClaims(item.Policy, claim, now); err != nil {
			return "", err
		}
		err = CheckRequiredQuests(item, func(questID string) (int, error) {
			c, err := tx.Claim(ctx, questID, models.ClaimQuest)
			return c.Count(), err
		})
		if err != nil {
			return "", err
		}
		changes, err := promotionChanges(*s, item)
		if err != nil {
			return "", err
		}
		if err := applyChanges(ctx, tx, s, changes, "reward:"+item.ID, now); err != nil {
			return "", err
		}
		if err := tx.AppendClaim(ctx, item.ID, models.ClaimReward, now); err != nil {
			return "", err
		}
		claimedAt = now
		mobile = s.MobileNumber
		return promotionMessage(item), nil
	})
	if err != nil {
		return result, err
	}

	result.Success = true
	result.fromBalance(balance)
	result.Message = promotionMessage(item)
	if item.PromotionType == models.PromotionReload {
		result.ReloadValue = item.ReloadValue
		e.dispatch(ctx, interf.ReloadOrder{
			StudentID:    student.ID,
			RewardID:     item.ID,
			MobileNumber: mobile,
			ReloadValue:  item.ReloadValue,
			CoinsCost:    item.RequiredCoins,
			ClaimedAt:    claimedAt,
		})
	}
	return result, nil
}

// отправка заявки после фиксации; ошибка не отменяет списание
func (e *RewardEngine) dispatch(ctx context.Context, order interf.ReloadOrder) {
	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.DispatchReload(ctx, order); err != nil {
		e.logger.Error("Reload dispatch",
			zap.String("service", "Execute"),
			zap.String("student", order.StudentID),
			zap.String("reward", order.RewardID),
			zap.Error(err),
		)
	}
}
