package rewards

import (
	"context"
	"errors"
	"testing"
	"time"

	models "github.com/glkeru/rewards/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func grantStars(amount int) []models.RewardAction {
	return []models.RewardAction{{Type: models.ActionGrantStars, Parameters: map[string]any{"amount": amount}}}
}

func TestGetMatchingRules(t *testing.T) {
	cont := gomock.NewController(t)
	defer cont.Finish()

	rules := []models.Rule{
		{ID: "r1", Status: models.RuleActive, TriggerEvent: "login", Priority: 20},
		{ID: "r2", Status: models.RuleActive, TriggerEvent: "login", Priority: 10},
		{ID: "r3", Status: models.RuleInactive, TriggerEvent: "login", Priority: 1},
		{ID: "r4", Status: models.RuleActive, TriggerEvent: "registration", Priority: 1},
		{ID: "r5", Status: models.RuleActive, TriggerEvent: "login", Priority: 10},
	}

	storage := NewMockRuleStorage(cont)
	storage.EXPECT().
		GetActiveRules(gomock.Any(), "login").
		Return(rules, nil).
		Times(1)

	f := newFixture(t, nil)
	serv := NewRuleEngineService(storage, f.store, f.store, f.service.ledger, f.service.engine, f.service.logger)

	matched, err := serv.GetMatchingRules(context.Background(), "login")
	require.NoError(t, err)

	var ids []string
	for _, r := range matched {
		ids = append(ids, r.ID)
	}
	// равный приоритет - порядок добавления
	require.Equal(t, []string{"r2", "r5", "r1"}, ids)
}

func TestGetMatchingRulesStorageError(t *testing.T) {
	cont := gomock.NewController(t)
	defer cont.Finish()

	storage := NewMockRuleStorage(cont)
	storage.EXPECT().
		GetActiveRules(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("mongo is down"))

	f := newFixture(t, nil)
	serv := NewRuleEngineService(storage, f.store, f.store, f.service.ledger, f.service.engine, f.service.logger)

	_, err := serv.GetMatchingRules(context.Background(), "login")
	require.Error(t, err)
}

type RuleCase struct {
	Name     string
	Event    map[string]any
	Expected bool
}

func TestConditionGroups(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "groups@school.edu", Coins: 150})

	// (A AND B) OR C
	rule := models.Rule{
		ID:           "groups",
		Status:       models.RuleActive,
		TriggerEvent: "lesson_completed",
		Conditions: []models.ConditionGroup{
			{
				{Field: "user_meta.coins", Operator: ">=", Value: 100},
				{Field: "event.level", Operator: "==", Value: 5},
			},
			{
				{Field: "event.vip", Operator: "==", Value: true},
			},
		},
		RewardLogic: grantStars(1),
	}

	tests := []RuleCase{
		{"A и B", map[string]any{"level": float64(5)}, true},
		{"A, не B, не C", map[string]any{"level": float64(3), "vip": false}, false},
		{"только C", map[string]any{"level": float64(3), "vip": true}, true},
		{"нет данных события", nil, false},
	}

	for _, ts := range tests {
		t.Run(ts.Name, func(t *testing.T) {
			result, err := f.service.rules.EvaluateAndExecute(context.Background(), student, []models.Rule{rule}, ts.Event)
			require.NoError(t, err)
			require.Equal(t, ts.Expected, result.Success)
			if ts.Expected {
				require.Len(t, result.RewardsGranted, 1)
				require.Len(t, result.Notifications, 1)
			} else {
				require.Empty(t, result.RewardsGranted)
			}
		})
	}
}

func TestVacuousConditions(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "vacuous@school.edu"})

	rules := []models.Rule{
		{ID: "no-groups", Status: models.RuleActive, RewardLogic: grantStars(1)},
		{ID: "empty-group", Status: models.RuleActive, Conditions: []models.ConditionGroup{{}}, RewardLogic: grantStars(2)},
	}
	result, err := f.service.rules.EvaluateAndExecute(context.Background(), student, rules, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.RewardsGranted, 2)
	require.Equal(t, int64(3), f.reload(t, student).Stars)
}

func TestBrokenConditionsFailOnlyTheirGroup(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "broken@school.edu", Coins: 10})

	tests := []struct {
		Name      string
		Condition models.Condition
	}{
		{"неизвестное пространство", models.Condition{Field: "profile.age", Operator: ">", Value: 3}},
		{"без пространства", models.Condition{Field: "coins", Operator: ">", Value: 3}},
		{"неизвестный ключ", models.Condition{Field: "user_meta.shoe_size", Operator: ">", Value: 3}},
		{"неподдерживаемый оператор", models.Condition{Field: "user_meta.coins", Operator: "~=", Value: 10}},
	}

	for _, ts := range tests {
		t.Run(ts.Name, func(t *testing.T) {
			only := models.Rule{ID: "only", Status: models.RuleActive, RewardLogic: grantStars(1),
				Conditions: []models.ConditionGroup{{ts.Condition}}}
			result, err := f.service.rules.EvaluateAndExecute(context.Background(), student, []models.Rule{only}, nil)
			require.NoError(t, err)
			require.False(t, result.Success)

			withFallback := models.Rule{ID: "fallback", Status: models.RuleActive, RewardLogic: grantStars(1),
				Conditions: []models.ConditionGroup{
					{ts.Condition},
					{{Field: "user_meta.coins", Operator: "==", Value: 10}},
				}}
			result, err = f.service.rules.EvaluateAndExecute(context.Background(), student, []models.Rule{withFallback}, nil)
			require.NoError(t, err)
			require.True(t, result.Success)
		})
	}
}

func TestCompileRule(t *testing.T) {
	rule := models.Rule{ID: "compile", Conditions: []models.ConditionGroup{
		{{Field: "user_meta.points", Operator: ">", Value: 1}, {Field: "event.course.id", Operator: "in", Value: []any{"c1"}}},
		{{Field: "session.id", Operator: "==", Value: "x"}},
	}}
	compiled, problems := compileRule(rule)
	require.Len(t, problems, 1)
	require.Equal(t, models.CodeConfiguration, models.ErrorCode(problems[0]))
	require.Len(t, compiled.groups, 2)
	require.NoError(t, compiled.groups[0][1].broken)
	require.Error(t, compiled.groups[1][0].broken)

	// вложенные поля события
	ec := evalContext{student: models.Student{Points: 2}, event: map[string]any{"course": map[string]any{"id": "c1"}}}
	require.True(t, compiled.matches(ec, zap.NewNop()))
}

func TestAllMatchingRulesFireInPriorityOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "order@school.edu"})

	for _, r := range []models.Rule{
		{
			ID: "second", Status: models.RuleActive, TriggerEvent: "login", Priority: 2,
			Conditions:  []models.ConditionGroup{{{Field: "user_meta.coins", Operator: ">=", Value: 100}}},
			RewardLogic: grantStars(1),
		},
		{
			ID: "first", Status: models.RuleActive, TriggerEvent: "login", Priority: 1,
			RewardLogic: []models.RewardAction{{Type: models.ActionGrantCoins, Parameters: map[string]any{"amount": 100}}},
		},
	} {
		_, err := f.store.SaveRule(ctx, r)
		require.NoError(t, err)
	}

	rules, err := f.service.rules.GetMatchingRules(ctx, "login")
	require.NoError(t, err)
	result, err := f.service.rules.EvaluateAndExecute(ctx, student, rules, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.RewardsGranted, 2)
	require.Equal(t, "first", result.RewardsGranted[0].RuleID)
	require.Equal(t, "second", result.RewardsGranted[1].RuleID)

	stored := f.reload(t, student)
	require.Equal(t, int64(100), stored.Coins)
	require.Equal(t, int64(1), stored.Stars)
}

func TestRuleActions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "actions@school.edu", Coins: 15})
	promo := f.addReward(t, models.RewardItem{
		Name: "welcome", PromotionType: models.PromotionAddition, AdditionalType: models.TargetPoints, AdditionalReward: 7,
	})

	rule := models.Rule{
		ID:     "actions",
		Status: models.RuleActive,
		RewardLogic: []models.RewardAction{
			{Type: models.ActionMultiplyCoins, Parameters: map[string]any{"factor": 2}},
			{Type: "teleport", Parameters: map[string]any{}},
			{Type: models.ActionGrantCoins, Parameters: map[string]any{"amount": -5}},
			{Type: models.ActionApplyPromotion, Parameters: map[string]any{"reward_id": promo.ID}},
			{Type: models.ActionApplyPromotion, Parameters: map[string]any{"reward_id": "missing"}},
			{Type: models.ActionCustomFunction, Parameters: map[string]any{"function": "grant_points", "amount": 3}},
			{Type: models.ActionCustomFunction, Parameters: map[string]any{"function": "unknown"}},
			{Type: models.ActionGrantStars, Parameters: map[string]any{"amount": 2}},
		},
	}

	result, err := f.service.rules.EvaluateAndExecute(ctx, student, []models.Rule{rule}, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	// неверные действия пропускаются, остальные выполняются
	require.Len(t, result.RewardsGranted, 4)
	require.Equal(t, models.ActionMultiplyCoins, result.RewardsGranted[0].Action)
	require.Equal(t, int64(15), result.RewardsGranted[0].Amount)
	require.Equal(t, promo.ID, result.RewardsGranted[1].RewardID)
	require.Equal(t, models.CurrencyPoints, result.RewardsGranted[2].Currency)
	require.Equal(t, models.ActionCustomFunction, result.RewardsGranted[2].Action)
	require.Equal(t, models.ActionGrantStars, result.RewardsGranted[3].Action)

	stored := f.reload(t, student)
	require.Equal(t, int64(30), stored.Coins)
	require.Equal(t, int64(10), stored.Points)
	require.Equal(t, int64(2), stored.Stars)
	require.Len(t, result.Notifications, 4)
	require.Len(t, f.notifications(t, student), 4)
}

func TestRegisterFunction(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "custom@school.edu"})

	f.service.rules.RegisterFunction("streak_bonus", func(ctx context.Context, s models.Student, params map[string]any) (GrantedReward, string, error) {
		days, _ := numberParam(params, "days")
		_, err := f.service.ledger.Grant(ctx, s.ID, models.CurrencyCoins, int64(days)*2, "function:streak_bonus", "")
		return GrantedReward{Currency: models.CurrencyCoins, Amount: int64(days) * 2}, "streak!", err
	})

	rule := models.Rule{ID: "streak", Status: models.RuleActive, RewardLogic: []models.RewardAction{
		{Type: models.ActionCustomFunction, Parameters: map[string]any{"name": "streak_bonus", "days": 4}},
	}}
	result, err := f.service.rules.EvaluateAndExecute(context.Background(), student, []models.Rule{rule}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"streak!"}, result.Notifications)
	require.Equal(t, "streak", result.RewardsGranted[0].RuleID)
	require.Equal(t, int64(8), f.reload(t, student).Coins)
}

func TestRuleTimeConstraints(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "time@school.edu"})

	tests := []struct {
		Name        string
		Constraints *models.TimeConstraints
		Expected    bool
	}{
		{"нет ограничений", nil, true},
		{"выключены", &models.TimeConstraints{Enabled: false, ValidUntil: timePtr(f.now.Add(-time.Hour))}, true},
		{"истекло", &models.TimeConstraints{Enabled: true, ValidUntil: timePtr(f.now.Add(-time.Hour))}, false},
		{"еще не началось", &models.TimeConstraints{Enabled: true, ValidFrom: timePtr(f.now.Add(time.Hour))}, false},
		{"в окне", &models.TimeConstraints{Enabled: true, ValidFrom: timePtr(f.now.Add(-time.Hour)), ValidUntil: timePtr(f.now.Add(time.Hour))}, true},
	}

	for _, ts := range tests {
		t.Run(ts.Name, func(t *testing.T) {
			rule := models.Rule{ID: ts.Name, Status: models.RuleActive, TimeConstraints: ts.Constraints, RewardLogic: grantStars(1)}
			result, err := f.service.rules.EvaluateAndExecute(context.Background(), student, []models.Rule{rule}, nil)
			require.NoError(t, err)
			require.Equal(t, ts.Expected, result.Success)
		})
	}
}

func TestUserMetaFields(t *testing.T) {
	f := newFixture(t, nil)
	claimed := f.now.Add(-48 * time.Hour)
	student := f.addStudent(t, models.Student{
		Email: "meta@school.edu", Points: 3, Coins: 4, Stars: 5, MobileNumber: "+15550101", LastDailyRewardClaimed: &claimed,
	})

	conditions := []models.Condition{
		{Field: "user_meta.points", Operator: "==", Value: 3},
		{Field: "user_meta.coins", Operator: "<", Value: 5},
		{Field: "user_meta.stars", Operator: "IN", Value: []any{5, 6}},
		{Field: "user_meta.email", Operator: "CONTAINS", Value: "@school.edu"},
		{Field: "user_meta.mobile_number", Operator: "!=", Value: ""},
		{Field: "user_meta.unread_notifications", Operator: "==", Value: 0},
		{Field: "user_meta.last_daily_reward_claimed", Operator: "<", Value: "2025-03-01"},
	}
	rule := models.Rule{ID: "meta", Status: models.RuleActive, Conditions: []models.ConditionGroup{conditions}, RewardLogic: grantStars(1)}

	result, err := f.service.rules.EvaluateAndExecute(context.Background(), student, []models.Rule{rule}, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestRuleCompiledOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	student := f.addStudent(t, models.Student{Email: "once@school.edu", Coins: 10})

	core, logs := observer.New(zap.InfoLevel)
	serv := NewRuleEngineService(f.store, f.store, f.store, f.service.ledger, f.service.engine, zap.New(core))

	rule := models.Rule{ID: "broken", Status: models.RuleActive, TriggerEvent: "login", RewardLogic: grantStars(1),
		Conditions: []models.ConditionGroup{
			{{Field: "session.id", Operator: "LIKE", Value: "x"}},
			{{Field: "user_meta.coins", Operator: "==", Value: 10}},
		}}
	_, err := f.store.SaveRule(ctx, rule)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rules, err := serv.GetMatchingRules(ctx, "login")
		require.NoError(t, err)
		result, err := serv.EvaluateAndExecute(ctx, student, rules, nil)
		require.NoError(t, err)
		require.True(t, result.Success)
	}
	require.Equal(t, 1, logs.FilterMessage("Rule compile").Len())

	// новая версия правила разбирается заново
	rule.Conditions = []models.ConditionGroup{{{Field: "profile.age", Operator: ">", Value: 3}}}
	_, err = f.store.SaveRule(ctx, rule)
	require.NoError(t, err)
	_, err = serv.GetMatchingRules(ctx, "login")
	require.NoError(t, err)
	require.Equal(t, 2, logs.FilterMessage("Rule compile").Len())
}

func TestMultiplyReportsCommittedDelta(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "delta@school.edu", Coins: 10})

	rule := models.Rule{ID: "grant-then-multiply", Status: models.RuleActive, RewardLogic: []models.RewardAction{
		{Type: models.ActionGrantCoins, Parameters: map[string]any{"amount": 5}},
		{Type: models.ActionMultiplyCoins, Parameters: map[string]any{"factor": 2}},
	}}
	result, err := f.service.rules.EvaluateAndExecute(context.Background(), student, []models.Rule{rule}, nil)
	require.NoError(t, err)
	require.Len(t, result.RewardsGranted, 2)

	stored := f.reload(t, student)
	require.Equal(t, int64(30), stored.Coins)
	require.Equal(t, int64(15), result.RewardsGranted[1].Amount)

	tnx := f.tnx(t, student)
	require.Equal(t, int64(15), tnx[len(tnx)-1].Delta)
}

func TestApplyPromotionRefusesReload(t *testing.T) {
	cont := gomock.NewController(t)
	defer cont.Finish()

	dispatcher := NewMockReloadDispatcher(cont)
	dispatcher.EXPECT().DispatchReload(gomock.Any(), gomock.Any()).Times(0)

	f := newFixture(t, dispatcher)
	student := f.addStudent(t, models.Student{Email: "noreload@school.edu", Coins: 500, MobileNumber: "+15550102"})
	reload := f.addReward(t, models.RewardItem{Name: "reload", PromotionType: models.PromotionReload, RequiredCoins: 200, ReloadValue: 100})

	rule := models.Rule{ID: "auto-reload", Status: models.RuleActive, RewardLogic: []models.RewardAction{
		{Type: models.ActionApplyPromotion, Parameters: map[string]any{"reward_id": reload.ID}},
	}}
	result, err := f.service.rules.EvaluateAndExecute(context.Background(), student, []models.Rule{rule}, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, result.RewardsGranted)

	require.Equal(t, int64(500), f.reload(t, student).Coins)
	require.Empty(t, f.tnx(t, student))
	require.Empty(t, f.notifications(t, student))
}

func TestNotifyFunction(t *testing.T) {
	f := newFixture(t, nil)
	student := f.addStudent(t, models.Student{Email: "notify@school.edu"})

	rule := models.Rule{ID: "welcome", Status: models.RuleActive, RewardLogic: []models.RewardAction{
		{Type: models.ActionCustomFunction, Parameters: map[string]any{"function": "notify", "message": "Welcome back!"}},
		{Type: models.ActionCustomFunction, Parameters: map[string]any{"function": "notify"}},
	}}
	result, err := f.service.rules.EvaluateAndExecute(context.Background(), student, []models.Rule{rule}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Welcome back!"}, result.Notifications)

	list := f.notifications(t, student)
	require.Len(t, list, 1)
	require.Equal(t, "Welcome back!", list[0].Message)
	require.False(t, list[0].IsRead)
	require.Empty(t, f.tnx(t, student))
}
