package rewards

import (
	"context"
	"errors"
	"testing"
	"time"

	models "github.com/glkeru/rewards/internal/models"
	"github.com/stretchr/testify/require"
)

func TestPlayQuestScenario(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "quest@school.edu"})
	quest := f.addQuest(t, models.Quest{Key: "intro", Name: "Intro", PointsReward: 10, CoinsReward: 5})

	resp := f.service.PlayQuest(context.Background(), PlayQuestRequest{Student: "quest@school.edu", QuestID: quest.ID})
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, StateResponded, resp.State)
	require.Equal(t, int64(10), resp.NewPoints)
	require.Equal(t, int64(5), resp.NewCoins)
	require.Equal(t, 1, resp.UnreadCount)
	require.NotEmpty(t, resp.Message)

	claim, err := f.store.GetClaim(context.Background(), student.ID, quest.ID, models.ClaimQuest)
	require.NoError(t, err)
	require.Equal(t, 1, claim.Count())
	require.Len(t, f.tnx(t, student), 2)
}

func TestPlayQuestRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent(t, models.Student{Email: "rejected@school.edu"})
	limited := f.addQuest(t, models.Quest{Name: "once", PointsReward: 1, Policy: models.Policy{RedemptionLimit: 1}})
	expired := f.addQuest(t, models.Quest{Name: "old", PointsReward: 1, Policy: models.Policy{ValidUntil: timePtr(f.now.Add(-time.Hour))}})
	broken := f.addQuest(t, models.Quest{Name: "broken", PointsReward: -1})

	first := f.service.PlayQuest(context.Background(), PlayQuestRequest{Student: "rejected@school.edu", QuestID: limited.ID})
	require.True(t, first.Success)

	tests := []struct {
		Name    string
		Request PlayQuestRequest
		Code    string
		Error   string
	}{
		{"нет квеста", PlayQuestRequest{Student: "rejected@school.edu"}, models.CodeInvalidInput, ""},
		{"нет студента", PlayQuestRequest{QuestID: limited.ID}, models.CodeInvalidInput, ""},
		{"неизвестный квест", PlayQuestRequest{Student: "rejected@school.edu", QuestID: "missing"}, models.CodeNotFound, ""},
		{"неизвестный студент", PlayQuestRequest{Student: "ghost@school.edu", QuestID: limited.ID}, models.CodeNotFound, ""},
		{"лимит", PlayQuestRequest{Student: "rejected@school.edu", QuestID: limited.ID}, models.CodeNotEligible, models.ReasonLimitReached},
		{"истек", PlayQuestRequest{Student: "rejected@school.edu", QuestID: expired.ID}, models.CodeNotEligible, models.ReasonExpired},
		{"отрицательная награда", PlayQuestRequest{Student: "rejected@school.edu", QuestID: broken.ID}, models.CodeConfiguration, ""},
	}

	for _, ts := range tests {
		t.Run(ts.Name, func(t *testing.T) {
			resp := f.service.PlayQuest(context.Background(), ts.Request)
			require.False(t, resp.Success)
			require.Equal(t, StateRejected, resp.State)
			require.Equal(t, ts.Code, resp.Code)
			if ts.Error != "" {
				require.Equal(t, ts.Error, resp.Error)
			}
		})
	}
}

func TestRedeemReloadScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "reload@school.edu", Coins: 500, MobileNumber: "+15550102"})
	item := f.addReward(t, models.RewardItem{
		Name: "phone reload", PromotionType: models.PromotionReload, RequiredCoins: 200, ReloadValue: 100,
	})

	// без подтверждения - только данные для подтверждения
	resp := f.service.RedeemReward(ctx, RedeemRequest{Student: student.Email, RewardID: item.ID})
	require.False(t, resp.Success)
	require.True(t, resp.NeedsConfirmation)
	require.Equal(t, StateNeedsConfirmation, resp.State)
	require.NotNil(t, resp.Confirmation)
	require.Equal(t, int64(300), resp.Confirmation.RemainingCoins)
	require.Equal(t, int64(500), resp.Confirmation.CurrentCoins)
	require.Equal(t, int64(200), resp.Confirmation.CoinsCost)
	require.Equal(t, int64(100), resp.Confirmation.ReloadValue)
	require.Equal(t, "+15550102", resp.Confirmation.PhoneNumber)
	require.NotEmpty(t, resp.Confirmation.Token)
	require.Equal(t, int64(500), f.reload(t, student).Coins)
	require.Empty(t, f.tnx(t, student))

	// с подтверждением - ровно одно списание
	resp = f.service.RedeemReward(ctx, RedeemRequest{
		Student: student.Email, RewardID: item.ID, Confirmed: true, ConfirmationToken: resp.Confirmation.Token,
	})
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, StateResponded, resp.State)
	require.Equal(t, int64(300), resp.NewCoins)
	require.Equal(t, int64(100), resp.ReloadValue)
	require.Equal(t, 1, resp.UnreadCount)
	require.Len(t, f.tnx(t, student), 1)
	require.Equal(t, int64(300), f.reload(t, student).Coins)
}

func TestRedeemConfirmationToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "token@school.edu", Coins: 1000})
	other := f.addStudent(t, models.Student{Email: "other@school.edu", Coins: 1000})
	item := f.addReward(t, models.RewardItem{Name: "reload", PromotionType: models.PromotionReload, RequiredCoins: 100, ReloadValue: 50})
	second := f.addReward(t, models.RewardItem{Name: "reload 2", PromotionType: models.PromotionReload, RequiredCoins: 100, ReloadValue: 50})

	token := func(s models.Student) string {
		resp := f.service.RedeemReward(ctx, RedeemRequest{Student: s.ID, RewardID: item.ID})
		require.True(t, resp.NeedsConfirmation)
		return resp.Confirmation.Token
	}

	// одноразовый
	tk := token(student)
	resp := f.service.RedeemReward(ctx, RedeemRequest{Student: student.ID, RewardID: item.ID, Confirmed: true, ConfirmationToken: tk})
	require.True(t, resp.Success, resp.Error)
	resp = f.service.RedeemReward(ctx, RedeemRequest{Student: student.ID, RewardID: item.ID, Confirmed: true, ConfirmationToken: tk})
	require.Equal(t, models.CodeConfirmationInvalid, resp.Code)

	// чужой студент и чужая награда
	tk = token(student)
	resp = f.service.RedeemReward(ctx, RedeemRequest{Student: other.ID, RewardID: item.ID, Confirmed: true, ConfirmationToken: tk})
	require.Equal(t, models.CodeConfirmationInvalid, resp.Code)
	tk = token(student)
	resp = f.service.RedeemReward(ctx, RedeemRequest{Student: student.ID, RewardID: second.ID, Confirmed: true, ConfirmationToken: tk})
	require.Equal(t, models.CodeConfirmationInvalid, resp.Code)

	// цена изменилась после подтверждения
	tk = token(student)
	item.RequiredCoins = 150
	f.addReward(t, item)
	resp = f.service.RedeemReward(ctx, RedeemRequest{Student: student.ID, RewardID: item.ID, Confirmed: true, ConfirmationToken: tk})
	require.Equal(t, models.CodeConfirmationInvalid, resp.Code)

	// без токена запрос проходит
	resp = f.service.RedeemReward(ctx, RedeemRequest{Student: student.ID, RewardID: item.ID, Confirmed: true})
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, int64(1000-100-150), resp.NewCoins)
	require.Equal(t, int64(1000), f.reload(t, other).Coins)
}

func TestRedeemRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "redeem@school.edu", Coins: 50})
	reload := f.addReward(t, models.RewardItem{Name: "reload", PromotionType: models.PromotionReload, RequiredCoins: 200, ReloadValue: 100})
	future := f.addReward(t, models.RewardItem{
		Name: "soon", PromotionType: models.PromotionAddition, AdditionalType: models.TargetCoins, AdditionalReward: 1,
		Policy: models.Policy{ValidFrom: timePtr(f.now.Add(24 * time.Hour))},
	})
	daily := f.addReward(t, models.RewardItem{
		Name: "daily", PromotionType: models.PromotionAddition, AdditionalType: models.TargetCoins, AdditionalReward: 1,
		Policy: models.Policy{CooldownPeriod: 86400},
	})
	odd := f.addReward(t, models.RewardItem{Name: "odd", PromotionType: "cashback"})

	first := f.service.RedeemReward(ctx, RedeemRequest{Student: student.ID, RewardID: daily.ID})
	require.True(t, first.Success, first.Error)

	tests := []struct {
		Name    string
		Request RedeemRequest
		Code    string
		Error   string
	}{
		{"нет награды", RedeemRequest{Student: student.ID}, models.CodeInvalidInput, ""},
		{"нет студента", RedeemRequest{RewardID: reload.ID}, models.CodeInvalidInput, ""},
		{"неизвестная награда", RedeemRequest{Student: student.ID, RewardID: "missing"}, models.CodeNotFound, ""},
		{"еще недоступна", RedeemRequest{Student: student.ID, RewardID: future.ID}, models.CodeNotEligible, models.ReasonNotYetAvailable},
		{"пауза", RedeemRequest{Student: student.ID, RewardID: daily.ID}, models.CodeNotEligible, ""},
		{"не хватает монет без подтверждения", RedeemRequest{Student: student.ID, RewardID: reload.ID}, models.CodeInsufficientCoins, ""},
		{"не хватает монет с подтверждением", RedeemRequest{Student: student.ID, RewardID: reload.ID, Confirmed: true}, models.CodeInsufficientCoins, ""},
		{"неизвестный тип", RedeemRequest{Student: student.ID, RewardID: odd.ID, Confirmed: true}, models.CodeUnsupportedType, ""},
	}

	for _, ts := range tests {
		t.Run(ts.Name, func(t *testing.T) {
			resp := f.service.RedeemReward(ctx, ts.Request)
			require.False(t, resp.Success)
			require.False(t, resp.NeedsConfirmation)
			require.Equal(t, StateRejected, resp.State)
			require.Equal(t, ts.Code, resp.Code)
			if ts.Error != "" {
				require.Equal(t, ts.Error, resp.Error)
			}
		})
	}
	require.Equal(t, int64(51), f.reload(t, student).Coins)
}

func TestRedeemLimit(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "limit@school.edu"})
	item := f.addReward(t, models.RewardItem{
		Name: "three times", PromotionType: models.PromotionAddition, AdditionalType: models.TargetPoints, AdditionalReward: 2,
		Policy: models.Policy{RedemptionLimit: 3},
	})

	for i := 0; i < 3; i++ {
		resp := f.service.RedeemReward(context.Background(), RedeemRequest{Student: student.ID, RewardID: item.ID})
		require.True(t, resp.Success, resp.Error)
	}
	resp := f.service.RedeemReward(context.Background(), RedeemRequest{Student: student.ID, RewardID: item.ID})
	require.Equal(t, models.ReasonLimitReached, resp.Error)
	require.Equal(t, int64(6), f.reload(t, student).Points)
}

func TestPersistenceFailureIsRetryable(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "retry@school.edu"})
	quest := f.addQuest(t, models.Quest{Name: "retry", PointsReward: 3})

	f.store.FailOn("commit", errors.New("connection reset"))
	resp := f.service.PlayQuest(context.Background(), PlayQuestRequest{Student: student.ID, QuestID: quest.ID})
	require.Equal(t, models.CodePersistence, resp.Code)
	require.Equal(t, "operation was not completed, please retry", resp.Error)
	require.Zero(t, f.reload(t, student).Points)

	f.store.FailOn("commit", nil)
	resp = f.service.PlayQuest(context.Background(), PlayQuestRequest{Student: student.ID, QuestID: quest.ID})
	require.True(t, resp.Success)
	require.Equal(t, int64(3), resp.NewPoints)
}

func TestCancelledRequestLeavesNoState(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "cancel@school.edu"})
	quest := f.addQuest(t, models.Quest{Name: "cancel", PointsReward: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := f.service.PlayQuest(ctx, PlayQuestRequest{Student: student.ID, QuestID: quest.ID})
	require.False(t, resp.Success)
	require.Equal(t, models.CodePersistence, resp.Code)
	require.Zero(t, f.reload(t, student).Points)
	require.Empty(t, f.notifications(t, student))
}

func TestNotifications(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "notes@school.edu"})
	for _, name := range []string{"one", "two", "three"} {
		quest := f.addQuest(t, models.Quest{Name: name, PointsReward: 1})
		resp := f.service.PlayQuest(ctx, PlayQuestRequest{Student: student.ID, QuestID: quest.ID})
		require.True(t, resp.Success)
		f.now = f.now.Add(time.Minute)
	}

	// повторное чтение без отметок дает тот же результат
	first := f.service.FetchNotifications(ctx, student.Email)
	second := f.service.FetchNotifications(ctx, student.Email)
	require.True(t, first.Success)
	require.Equal(t, first, second)
	require.Len(t, first.Notifications, 3)
	require.Equal(t, 3, first.UnreadCount)

	// новые сверху, index - позиция в исходном списке
	require.Equal(t, 2, first.Notifications[0].Index)
	require.Equal(t, 0, first.Notifications[2].Index)
	require.True(t, first.Notifications[0].Timestamp.After(first.Notifications[2].Timestamp))

	index := 0
	mark := f.service.MarkNotificationRead(ctx, MarkReadRequest{Student: student.ID, Index: &index})
	require.True(t, mark.Success, mark.Error)
	require.Equal(t, 2, mark.UnreadCount)

	mark = f.service.MarkNotificationRead(ctx, MarkReadRequest{Student: student.ID, ID: first.Notifications[0].ID})
	require.Equal(t, 1, mark.UnreadCount)

	// повторная отметка ничего не меняет
	mark = f.service.MarkNotificationRead(ctx, MarkReadRequest{Student: student.ID, ID: first.Notifications[0].ID})
	require.Equal(t, 1, mark.UnreadCount)

	bad := 10
	mark = f.service.MarkNotificationRead(ctx, MarkReadRequest{Student: student.ID, Index: &bad})
	require.Equal(t, models.CodeNotFound, mark.Code)
	mark = f.service.MarkNotificationRead(ctx, MarkReadRequest{Student: student.ID})
	require.Equal(t, models.CodeInvalidInput, mark.Code)

	mark = f.service.MarkNotificationRead(ctx, MarkReadRequest{Student: student.ID, All: true})
	require.True(t, mark.Success)
	require.Zero(t, mark.UnreadCount)

	after := f.service.FetchNotifications(ctx, student.ID)
	for _, n := range after.Notifications {
		require.True(t, n.IsRead)
	}
	require.Zero(t, f.service.GetBalance(ctx, student.ID).UnreadCount)
}

func TestEvaluateRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "rules@school.edu"})
	_, err := f.store.SaveRule(ctx, models.Rule{
		ID: "login-bonus", Status: models.RuleActive, TriggerEvent: "login",
		Conditions:  []models.ConditionGroup{{{Field: "event.streak", Operator: ">=", Value: 3}}},
		RewardLogic: []models.RewardAction{{Type: models.ActionGrantCoins, Parameters: map[string]any{"amount": 5}}},
	})
	require.NoError(t, err)

	resp := f.service.EvaluateRules(ctx, EvaluateRequest{TriggerEvent: "login", Student: student.ID, EventData: map[string]any{"streak": float64(4)}})
	require.True(t, resp.Success, resp.Error)
	require.Len(t, resp.RewardsGranted, 1)
	require.Equal(t, int64(5), resp.RewardsGranted[0].Amount)
	require.Len(t, resp.Notifications, 1)

	resp = f.service.EvaluateRules(ctx, EvaluateRequest{TriggerEvent: "login", Student: student.ID, EventData: map[string]any{"streak": float64(1)}})
	require.False(t, resp.Success)
	require.Equal(t, StateResponded, resp.State)
	require.Empty(t, resp.Code)

	resp = f.service.EvaluateRules(ctx, EvaluateRequest{TriggerEvent: "logout", Student: student.ID})
	require.False(t, resp.Success)
	require.Empty(t, resp.RewardsGranted)

	resp = f.service.EvaluateRules(ctx, EvaluateRequest{Student: student.ID})
	require.Equal(t, models.CodeInvalidInput, resp.Code)

	require.Equal(t, int64(5), f.reload(t, student).Coins)
}

func TestClaimDailyReward(t *testing.T) {
	t.Setenv("REWARDS_DAILY_COINS", "25")
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "daily@school.edu"})

	resp := f.service.ClaimDailyReward(ctx, student.Email)
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, int64(25), resp.NewCoins)
	require.Equal(t, f.now.Add(24*time.Hour), *resp.NextAvailable)

	f.now = f.now.Add(23 * time.Hour)
	resp = f.service.ClaimDailyReward(ctx, student.Email)
	require.Equal(t, models.CodeNotEligible, resp.Code)
	require.NotNil(t, resp.NextAvailable)

	f.now = f.now.Add(time.Hour)
	resp = f.service.ClaimDailyReward(ctx, student.Email)
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, int64(50), resp.NewCoins)
	require.Equal(t, f.now, *f.reload(t, student).LastDailyRewardClaimed)
}

func TestBalanceCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "cache@school.edu", Coins: 3})
	quest := f.addQuest(t, models.Quest{Name: "cache", CoinsReward: 4})

	balance := f.service.GetBalance(ctx, student.ID)
	require.True(t, balance.Success)
	require.Equal(t, int64(3), balance.Coins)
	cached, err := f.cache.GetBalance(ctx, student.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), cached.Coins)

	// изменение сбрасывает кэш
	resp := f.service.PlayQuest(ctx, PlayQuestRequest{Student: student.ID, QuestID: quest.ID})
	require.True(t, resp.Success)
	_, err = f.cache.GetBalance(ctx, student.ID)
	require.ErrorIs(t, err, models.ErrNotFound)

	balance = f.service.GetBalance(ctx, student.ID)
	require.Equal(t, int64(7), balance.Coins)
	require.Equal(t, 1, balance.UnreadCount)
}

func TestTransactions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "history@school.edu"})
	quest := f.addQuest(t, models.Quest{Name: "history", PointsReward: 2, CoinsReward: 3})

	start := f.now
	resp := f.service.PlayQuest(ctx, PlayQuestRequest{Student: student.ID, QuestID: quest.ID})
	require.True(t, resp.Success)

	history := f.service.Transactions(ctx, student.ID, start, time.Time{})
	require.True(t, history.Success, history.Error)
	require.Len(t, history.Transactions, 2)
	require.Equal(t, "quest:"+quest.ID, history.Transactions[0].Reason)

	history = f.service.Transactions(ctx, student.ID, start.Add(time.Hour), start)
	require.Equal(t, models.CodeInvalidInput, history.Code)
}
