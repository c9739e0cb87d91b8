package rewards

import (
	"time"

	models "github.com/glkeru/rewards/internal/models"
)

// Проверка окна действия: "not yet available" / "expired"
func CheckWindow(p models.Policy, now time.Time) error {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return &models.EligibilityError{Reason: models.ReasonNotYetAvailable}
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return &models.EligibilityError{Reason: models.ReasonExpired}
	}
	return nil
}

// Проверка лимита и паузы по истории получений.
// Лимит проверяется раньше паузы и от нее не зависит.
func CheckClaims(p models.Policy, claim models.ClaimRecord, now time.Time) error {
	if p.CooldownPeriod <= 0 && p.RedemptionLimit <= 0 {
		return nil
	}
	count := claim.Count()
	if p.RedemptionLimit > 0 && count >= p.RedemptionLimit {
		return &models.EligibilityError{Reason: models.ReasonLimitReached}
	}
	if count == 0 || p.CooldownPeriod <= 0 {
		return nil
	}
	if remaining := CooldownRemaining(p, claim, now); remaining > 0 {
		return &models.EligibilityError{Reason: models.ReasonCooldown, Remaining: remaining}
	}
	return nil
}

// Сколько осталось до конца паузы, 0 если можно получать
func CooldownRemaining(p models.Policy, claim models.ClaimRecord, now time.Time) time.Duration {
	if p.CooldownPeriod <= 0 || claim.Count() == 0 {
		return 0
	}
	elapsed := now.Sub(claim.MostRecent())
	if elapsed >= p.Cooldown() {
		return 0
	}
	return p.Cooldown() - elapsed
}

func IsEligible(p models.Policy, claim models.ClaimRecord, now time.Time) bool {
	return CheckWindow(p, now) == nil && CheckClaims(p, claim, now) == nil
}

// Для multiplication: нужно выполнить QuestCompletionCount квестов из RequiredQuests (0 - все)
func CheckRequiredQuests(item models.RewardItem, completed func(questID string) (int, error)) error {
	if item.PromotionType != models.PromotionMultiplication || len(item.RequiredQuests) == 0 {
		return nil
	}
	need := item.QuestCompletionCount
	if need <= 0 || need > len(item.RequiredQuests) {
		need = len(item.RequiredQuests)
	}
	done := 0
	for _, q := range item.RequiredQuests {
		count, err := completed(q)
		if err != nil {
			return err
		}
		if count > 0 {
			done++
		}
	}
	if done < need {
		return &models.EligibilityError{Reason: models.ReasonQuestsIncomplete}
	}
	return nil
}
