package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	interf "github.com/glkeru/rewards/internal/interfaces"
	models "github.com/glkeru/rewards/internal/models"
	"go.uber.org/zap"
)

// Источники значений для условий
type fieldSource int

const (
	sourceUserMeta fieldSource = iota
	sourceEvent
)

var fieldNamespaces = map[string]fieldSource{
	"user_meta": sourceUserMeta,
	"event":     sourceEvent,
}

// Данные, доступные условиям при вычислении
type evalContext struct {
	student models.Student
	unread  int
	event   map[string]any
}

type fieldAccessor func(ec evalContext) (any, bool)

var userMetaFields = map[string]fieldAccessor{
	"points": func(ec evalContext) (any, bool) { return ec.student.Points, true },
	"coins":  func(ec evalContext) (any, bool) { return ec.student.Coins, true },
	"stars":  func(ec evalContext) (any, bool) { return ec.student.Stars, true },
	"email":  func(ec evalContext) (any, bool) { return ec.student.Email, true },
	"mobile_number": func(ec evalContext) (any, bool) {
		return ec.student.MobileNumber, ec.student.MobileNumber != ""
	},
	"unread_notifications": func(ec evalContext) (any, bool) { return ec.unread, true },
	"last_daily_reward_claimed": func(ec evalContext) (any, bool) {
		if ec.student.LastDailyRewardClaimed == nil {
			return nil, false
		}
		return *ec.student.LastDailyRewardClaimed, true
	},
}

// event.a.b - вложенные объекты event_data
func eventAccessor(path string) fieldAccessor {
	keys := strings.Split(path, ".")
	return func(ec evalContext) (any, bool) {
		if v, ok := ec.event[path]; ok {
			return v, true
		}
		var current any = ec.event
		for _, k := range keys {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = m[k]
			if !ok {
				return nil, false
			}
		}
		return current, true
	}
}

// Поле условия -> функция получения значения
func resolveField(field string) (fieldAccessor, error) {
	ns, key, found := strings.Cut(field, ".")
	if !found || key == "" {
		return nil, fmt.Errorf("field %q has no namespace", field)
	}
	source, ok := fieldNamespaces[ns]
	if !ok {
		return nil, fmt.Errorf("unknown namespace %q in field %q", ns, field)
	}
	switch source {
	case sourceUserMeta:
		accessor, ok := userMetaFields[key]
		if !ok {
			return nil, fmt.Errorf("unknown user_meta key %q", key)
		}
		return accessor, nil
	default:
		return eventAccessor(key), nil
	}
}

type compiledCondition struct {
	source   models.Condition
	accessor fieldAccessor
	broken   error // условие всегда ложно
}

type compiledRule struct {
	rule   models.Rule
	groups [][]compiledCondition
}

// Разбор правила; ошибки в условиях возвращаются списком, условие при этом всегда ложно
func compileRule(rule models.Rule) (compiledRule, []error) {
	compiled := compiledRule{rule: rule, groups: make([][]compiledCondition, 0, len(rule.Conditions))}
	var problems []error
	for _, group := range rule.Conditions {
		conds := make([]compiledCondition, 0, len(group))
		for _, c := range group {
			cc := compiledCondition{source: c}
			accessor, err := resolveField(c.Field)
			switch {
			case err != nil:
				cc.broken = err
			case !supportedOperators[strings.ToUpper(c.Operator)]:
				cc.broken = fmt.Errorf("unsupported operator %q", c.Operator)
			default:
				cc.accessor = accessor
			}
			if cc.broken != nil {
				problems = append(problems, &models.ConfigurationError{Code: models.CodeConfiguration, Subject: "rule " + rule.ID, Err: cc.broken})
			}
			conds = append(conds, cc)
		}
		compiled.groups = append(compiled.groups, conds)
	}
	return compiled, problems
}

// OR по группам, AND внутри группы. Без групп правило срабатывает всегда.
func (r compiledRule) matches(ec evalContext, logger *zap.Logger) bool {
	if len(r.groups) == 0 {
		return true
	}
	for _, group := range r.groups {
		if r.groupMatches(group, ec, logger) {
			return true
		}
	}
	return false
}

func (r compiledRule) groupMatches(group []compiledCondition, ec evalContext, logger *zap.Logger) bool {
	for _, c := range group {
		if c.broken != nil {
			return false
		}
		value, ok := c.accessor(ec)
		if !ok {
			return false
		}
		result, err := checkCondition(value, strings.ToUpper(c.source.Operator), c.source.Value)
		if err != nil {
			logger.Warn("Condition",
				zap.String("service", "EvaluateAndExecute"),
				zap.String("rule", r.rule.ID),
				zap.String("field", c.source.Field),
				zap.Error(err),
			)
			return false
		}
		if !result {
			return false
		}
	}
	return true
}

// Выданная по правилу награда
type GrantedReward struct {
	RuleID   string            `json:"rule_id"`
	Action   models.ActionType `json:"action"`
	Currency models.Currency   `json:"currency,omitempty"`
	Amount   int64             `json:"amount,omitempty"`
	RewardID string            `json:"reward_id,omitempty"`
}

type EvaluationResult struct {
	Success        bool            `json:"success"`
	RewardsGranted []GrantedReward `json:"rewards_granted"`
	Notifications  []string        `json:"notifications"`
}

// Пользовательская функция для custom_function
type CustomFunc func(ctx context.Context, student models.Student, params map[string]any) (GrantedReward, string, error)

type RuleEngineService struct {
	db        interf.RuleStorage
	students  interf.StudentStorage
	catalog   interf.CatalogStorage
	ledger    *Ledger
	engine    *RewardEngine
	logger    *zap.Logger
	mu        sync.RWMutex
	functions map[string]CustomFunc

	// разобранные правила: id -> последняя версия
	compiledMu sync.Mutex
	compiled   map[string]compiledEntry

	notifications *NotificationLog
}

type compiledEntry struct {
	source string
	rule   compiledRule
}

func NewRuleEngineService(db interf.RuleStorage, students interf.StudentStorage, catalog interf.CatalogStorage, ledger *Ledger, engine *RewardEngine, logger *zap.Logger) *RuleEngineService {
	s := &RuleEngineService{
		db:        db,
		students:  students,
		catalog:   catalog,
		ledger:    ledger,
		engine:    engine,
		logger:    logger,
		functions: make(map[string]CustomFunc),
		compiled:  make(map[string]compiledEntry),

		notifications: NewNotificationLog(ledger.db, ledger),
	}
	s.RegisterFunction("grant_points", s.grantPoints)
	s.RegisterFunction("notify", s.notify)
	return s
}

func (s *RuleEngineService) RegisterFunction(name string, fn CustomFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.functions[name] = fn
}

func (s *RuleEngineService) function(name string) (CustomFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.functions[name]
	return fn, ok
}

// log
func (s *RuleEngineService) Log(msg string, rule string, err error) {
	s.logger.Error(msg,
		zap.String("service", "RuleEngine"),
		zap.String("rule", rule),
		zap.Error(err),
	)
	ruleErrorsTotal.WithLabelValues(models.ErrorCode(err)).Inc()
}

// Активные правила события по возрастанию приоритета, при равенстве - порядок добавления
func (s *RuleEngineService) GetMatchingRules(ctx context.Context, trigger string) ([]models.Rule, error) {
	rules, err := s.db.GetActiveRules(ctx, trigger)
	if err != nil {
		return nil, err
	}
	matched := make([]models.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Status == models.RuleActive && r.TriggerEvent == trigger {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	// разбор при загрузке, ошибки в лог один раз на версию правила
	for _, r := range matched {
		s.compile(r)
	}
	return matched, nil
}

// Разобранное правило из кэша; правило без ID или с новым содержимым разбирается заново
func (s *RuleEngineService) compile(rule models.Rule) compiledRule {
	source, err := json.Marshal(rule)
	cacheable := rule.ID != "" && err == nil

	if cacheable {
		s.compiledMu.Lock()
		entry, ok := s.compiled[rule.ID]
		s.compiledMu.Unlock()
		if ok && entry.source == string(source) {
			return entry.rule
		}
	}

	compiled, problems := compileRule(rule)
	for _, p := range problems {
		s.Log("Rule compile", rule.ID, p)
	}
	if cacheable {
		s.compiledMu.Lock()
		s.compiled[rule.ID] = compiledEntry{string(source), compiled}
		s.compiledMu.Unlock()
	}
	return compiled
}

// Все сработавшие правила выполняются, ошибки действий не останавливают остальные
func (s *RuleEngineService) EvaluateAndExecute(ctx context.Context, student models.Student, rules []models.Rule, eventData map[string]any) (EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "RuleEngine.EvaluateAndExecute")
	defer span.End()

	result := EvaluationResult{RewardsGranted: []GrantedReward{}, Notifications: []string{}}
	if eventData == nil {
		eventData = map[string]any{}
	}
	ec, err := s.evalContext(ctx, student, eventData)
	if err != nil {
		return result, err
	}
	now := s.ledger.clock()

	for _, rule := range rules {
		select {
		case <-ctx.Done():
			return result, &models.PersistenceError{Op: "evaluate rules", Err: ctx.Err()}
		default:
		}
		if !rule.TimeConstraints.Active(now) {
			continue
		}
		if !s.compile(rule).matches(ec, s.logger) {
			continue
		}

		result.Success = true
		rulesFiredTotal.WithLabelValues(rule.TriggerEvent).Inc()
		for _, action := range rule.RewardLogic {
			granted, message, err := s.executeAction(ctx, ec.student, rule, action)
			if err != nil {
				s.Log("Rule action", rule.ID, err)
				continue
			}
			result.RewardsGranted = append(result.RewardsGranted, granted)
			if message != "" {
				result.Notifications = append(result.Notifications, message)
			}
		}

		// следующие правила видят обновленный баланс
		ec, err = s.evalContext(ctx, student, eventData)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *RuleEngineService) evalContext(ctx context.Context, student models.Student, eventData map[string]any) (evalContext, error) {
	fresh, err := s.students.GetStudent(ctx, student.ID)
	if err != nil {
		return evalContext{}, err
	}
	unread, err := s.ledger.db.UnreadCount(ctx, student.ID)
	if err != nil {
		return evalContext{}, err
	}
	return evalContext{student: fresh, unread: unread, event: eventData}, nil
}

func actionError(rule models.Rule, action models.RewardAction, format string, a ...any) error {
	return &models.ConfigurationError{
		Code:    models.CodeConfiguration,
		Subject: fmt.Sprintf("rule %s action %s", rule.ID, action.Type),
		Err:     fmt.Errorf(format, a...),
	}
}

func numberParam(params map[string]any, name string) (float64, bool) {
	v, ok := params[name]
	if !ok {
		return 0, false
	}
	return toFloat64(v)
}

func stringParam(params map[string]any, names ...string) string {
	for _, name := range names {
		if v, ok := params[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Выполнение одного действия правила
func (s *RuleEngineService) executeAction(ctx context.Context, student models.Student, rule models.Rule, action models.RewardAction) (GrantedReward, string, error) {
	granted := GrantedReward{RuleID: rule.ID, Action: action.Type}
	reason := "rule:" + rule.ID

	switch action.Type {
	case models.ActionGrantCoins, models.ActionGrantStars:
		amount, ok := numberParam(action.Parameters, "amount")
		if !ok || amount < 0 {
			return granted, "", actionError(rule, action, "amount must be a non-negative number")
		}
		currency := models.CurrencyCoins
		if action.Type == models.ActionGrantStars {
			currency = models.CurrencyStars
		}
		message := fmt.Sprintf("You received %d %s.", int64(amount), currency)
		if _, err := s.ledger.Grant(ctx, student.ID, currency, int64(amount), reason, message); err != nil {
			return granted, "", err
		}
		granted.Currency = currency
		granted.Amount = int64(amount)
		return granted, message, nil

	case models.ActionMultiplyCoins:
		factor, ok := numberParam(action.Parameters, "factor")
		if !ok || factor <= 0 {
			return granted, "", actionError(rule, action, "factor must be a positive number")
		}
		message := fmt.Sprintf("Your coins were multiplied by %g.", factor)
		_, delta, err := s.ledger.Multiply(ctx, student.ID, models.CurrencyCoins, factor, reason, message)
		if err != nil {
			return granted, "", err
		}
		granted.Currency = models.CurrencyCoins
		granted.Amount = delta
		return granted, message, nil

	case models.ActionApplyPromotion:
		rewardID := stringParam(action.Parameters, "reward_id", "promotion_id")
		if rewardID == "" {
			return granted, "", actionError(rule, action, "reward_id is required")
		}
		item, err := s.catalog.GetRewardItem(ctx, rewardID)
		if err != nil {
			return granted, "", err
		}
		// reload списывает монеты только после подтверждения студентом
		if item.PromotionType == models.PromotionReload {
			return granted, "", actionError(rule, action, "reload reward %s needs student confirmation", item.ID)
		}
		res, err := s.engine.Execute(ctx, student, item, true)
		if err != nil {
			return granted, "", err
		}
		granted.RewardID = item.ID
		return granted, res.Message, nil

	case models.ActionCustomFunction:
		name := stringParam(action.Parameters, "function", "name")
		fn, ok := s.function(name)
		if !ok {
			return granted, "", actionError(rule, action, "function %q is not registered", name)
		}
		res, message, err := fn(ctx, student, action.Parameters)
		if err != nil {
			return granted, "", err
		}
		res.RuleID = rule.ID
		res.Action = action.Type
		return res, message, nil
	}
	return granted, "", actionError(rule, action, "unknown action type")
}

// custom_function "grant_points": {"function": "grant_points", "amount": N}
func (s *RuleEngineService) grantPoints(ctx context.Context, student models.Student, params map[string]any) (GrantedReward, string, error) {
	amount, ok := numberParam(params, "amount")
	if !ok || amount < 0 {
		return GrantedReward{}, "", &models.ConfigurationError{Code: models.CodeConfiguration, Subject: "grant_points", Err: fmt.Errorf("amount must be a non-negative number")}
	}
	message := fmt.Sprintf("You received %d points.", int64(amount))
	_, err := s.ledger.Grant(ctx, student.ID, models.CurrencyPoints, int64(amount), "function:grant_points", message)
	if err != nil {
		return GrantedReward{}, "", err
	}
	return GrantedReward{Currency: models.CurrencyPoints, Amount: int64(amount)}, message, nil
}


// custom_function "notify": {"function": "notify", "message": "..."}
func (s *RuleEngineService) notify(ctx context.Context, student models.Student, params map[string]any) (GrantedReward, string, error) {
	message := stringParam(params, "message")
	if message == "" {
		return GrantedReward{}, "", &models.ConfigurationError{Code: models.CodeConfiguration, Subject: "notify", Err: fmt.Errorf("message is required")}
	}
	if _, err := s.notifications.Add(ctx, student.ID, message); err != nil {
		return GrantedReward{}, "", err
	}
	return GrantedReward{}, message, nil
}

// Проверка правила без выполнения: ошибки полей и операторов
func CheckRule(rule models.Rule) []error {
	_, errs := compileRule(rule)
	return errs
}

// Проверка правила перед сохранением
func ValidateRule(rule models.Rule) error {
	if strings.TrimSpace(rule.TriggerEvent) == "" {
		return &models.ValidationError{Field: "trigger_event", Message: "is required"}
	}
	switch rule.Status {
	case models.RuleActive, models.RuleInactive:
	default:
		return &models.ValidationError{Field: "status", Message: "must be active or inactive, got " + strconv.Quote(string(rule.Status))}
	}
	if problems := CheckRule(rule); len(problems) > 0 {
		return &models.ValidationError{Field: "conditions", Message: errors.Join(problems...).Error()}
	}
	return nil
}
