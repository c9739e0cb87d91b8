package rewards

import (
	"context"
	"strconv"
	"sync"
	"time"

	interf "github.com/glkeru/rewards/internal/interfaces"
	models "github.com/glkeru/rewards/internal/models"
	"github.com/google/uuid"
)

type claimKey struct {
	student string
	item    string
	kind    models.ClaimKind
}

// MemoryStore keeps all entities in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	students      map[string]models.Student
	emails        map[string]string
	quests        map[string]models.Quest
	questOrder    []string
	items         map[string]models.RewardItem
	itemOrder     []string
	rules         map[string]models.Rule
	ruleOrder     []string
	claims        map[claimKey][]time.Time
	notifications map[string][]models.Notification
	tnx           map[string][]models.Transaction

	// блокировки по студентам
	locksMu sync.Mutex
	locks   map[string]chan struct{}

	// ошибки для тестов: операция -> ошибка
	failMu   sync.Mutex
	failures map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:      make(map[string]models.Student),
		emails:        make(map[string]string),
		quests:        make(map[string]models.Quest),
		items:         make(map[string]models.RewardItem),
		rules:         make(map[string]models.Rule),
		claims:        make(map[claimKey][]time.Time),
		notifications: make(map[string][]models.Notification),
		tnx:           make(map[string][]models.Transaction),
		locks:         make(map[string]chan struct{}),
		failures:      make(map[string]error),
	}
}

// FailOn makes the named LedgerTx operation return err until cleared with a nil err.
func (m *MemoryStore) FailOn(op string, err error) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MemoryStore) failure(op string) error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if err, ok := m.failures[op]; ok {
		return &models.PersistenceError{Op: op, Err: err}
	}
	return nil
}

// students

func (m *MemoryStore) GetStudent(ctx context.Context, id string) (models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return models.Student{}, &models.NotFoundError{Entity: "student", ID: id}
	}
	return s, nil
}

func (m *MemoryStore) FindStudentByEmail(ctx context.Context, email string) (models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return models.Student{}, &models.NotFoundError{Entity: "student", ID: email}
	}
	return m.students[id], nil
}

func (m *MemoryStore) CreateStudent(ctx context.Context, student models.Student) (string, error) {
	if student.Email == "" {
		return "", &models.ValidationError{Field: "email", Message: "is required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emails[student.Email]; ok {
		return "", &models.ValidationError{Field: "email", Message: "already exists"}
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	m.students[student.ID] = student
	m.emails[student.Email] = student.ID
	return student.ID, nil
}

// catalog

func (m *MemoryStore) GetQuest(ctx context.Context, id string) (models.Quest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quests[id]
	if !ok {
		return models.Quest{}, &models.NotFoundError{Entity: "quest", ID: id}
	}
	return q, nil
}

func (m *MemoryStore) GetRewardItem(ctx context.Context, id string) (models.RewardItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[id]
	if !ok {
		return models.RewardItem{}, &models.NotFoundError{Entity: "reward", ID: id}
	}
	return r, nil
}

func (m *MemoryStore) ListQuests(ctx context.Context) ([]models.Quest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	quests := make([]models.Quest, 0, len(m.questOrder))
	for _, id := range m.questOrder {
		quests = append(quests, m.quests[id])
	}
	return quests, nil
}

func (m *MemoryStore) ListRewardItems(ctx context.Context) ([]models.RewardItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]models.RewardItem, 0, len(m.itemOrder))
	for _, id := range m.itemOrder {
		items = append(items, m.items[id])
	}
	return items, nil
}

func (m *MemoryStore) SaveQuest(ctx context.Context, quest models.Quest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if quest.ID == "" {
		quest.ID = uuid.NewString()
	}
	if _, ok := m.quests[quest.ID]; !ok {
		m.questOrder = append(m.questOrder, quest.ID)
	}
	m.quests[quest.ID] = quest
	return quest.ID, nil
}

func (m *MemoryStore) SaveRewardItem(ctx context.Context, item models.RewardItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if _, ok := m.items[item.ID]; !ok {
		m.itemOrder = append(m.itemOrder, item.ID)
	}
	m.items[item.ID] = item
	return item.ID, nil
}

// rules

func (m *MemoryStore) GetAllRules(ctx context.Context) ([]models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := make([]models.Rule, 0, len(m.ruleOrder))
	for _, id := range m.ruleOrder {
		rules = append(rules, m.rules[id])
	}
	return rules, nil
}

// Активные правила по событию в порядке добавления; пустое событие - все активные
func (m *MemoryStore) GetActiveRules(ctx context.Context, trigger string) ([]models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rules []models.Rule
	for _, id := range m.ruleOrder {
		r := m.rules[id]
		if r.Status != models.RuleActive {
			continue
		}
		if trigger != "" && r.TriggerEvent != trigger {
			continue
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (m *MemoryStore) SaveRule(ctx context.Context, rule models.Rule) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// если ID пустой, значит новое правило
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, ok := m.rules[rule.ID]; !ok {
		m.ruleOrder = append(m.ruleOrder, rule.ID)
	}
	m.rules[rule.ID] = rule
	return rule.ID, nil
}

func (m *MemoryStore) GetRule(ctx context.Context, ruleId string) (models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[ruleId]
	if !ok {
		return models.Rule{}, &models.NotFoundError{Entity: "rule", ID: ruleId}
	}
	return r, nil
}

// ledger

// блокировка студента: канал на одно место, ожидание прерывается контекстом
func (m *MemoryStore) studentLock(id string) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		m.locks[id] = l
	}
	return l
}

func (m *MemoryStore) WithStudent(ctx context.Context, studentID string, fn func(tx interf.LedgerTx) error) error {
	lock := m.studentLock(studentID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return &models.PersistenceError{Op: "lock student", Err: ctx.Err()}
	}
	defer func() { <-lock }()

	student, err := m.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	tx := &memoryTx{store: m, student: student}
	if err := fn(tx); err != nil {
		return err
	}
	// запрос отменен до фиксации - ничего не пишем
	if err := ctx.Err(); err != nil {
		return &models.PersistenceError{Op: "commit", Err: err}
	}
	if err := m.failure("commit"); err != nil {
		return err
	}
	m.commit(tx)
	return nil
}

func (m *MemoryStore) commit(tx *memoryTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := tx.student.ID
	if tx.dirty {
		m.students[id] = tx.student
	}
	m.tnx[id] = append(m.tnx[id], tx.tnx...)
	for _, c := range tx.claims {
		k := claimKey{id, c.item, c.kind}
		m.claims[k] = append(m.claims[k], c.at)
	}
	m.notifications[id] = append(m.notifications[id], tx.notifications...)
}

func (m *MemoryStore) GetClaim(ctx context.Context, studentID string, itemID string, kind models.ClaimKind) (models.ClaimRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts := m.claims[claimKey{studentID, itemID, kind}]
	record := models.ClaimRecord{StudentID: studentID, ItemID: itemID, Kind: kind}
	record.ClaimedTimestamps = append(record.ClaimedTimestamps, ts...)
	return record, nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, studentID string) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.notifications[studentID]
	result := make([]models.Notification, len(list))
	for i, n := range list {
		n.Index = i
		result[i] = n
	}
	return result, nil
}

func (m *MemoryStore) MarkNotificationRead(ctx context.Context, studentID string, notificationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.notifications[studentID]
	for i := range list {
		if list[i].ID == notificationID {
			list[i].IsRead = true
			return unread(list), nil
		}
	}
	return 0, &models.NotFoundError{Entity: "notification", ID: notificationID}
}

func (m *MemoryStore) MarkNotificationReadAt(ctx context.Context, studentID string, index int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.notifications[studentID]
	if index < 0 || index >= len(list) {
		return 0, &models.NotFoundError{Entity: "notification", ID: strconv.Itoa(index)}
	}
	list[index].IsRead = true
	return unread(list), nil
}

func (m *MemoryStore) MarkAllNotificationsRead(ctx context.Context, studentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.notifications[studentID]
	for i := range list {
		list[i].IsRead = true
	}
	return 0, nil
}

func (m *MemoryStore) UnreadCount(ctx context.Context, studentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return unread(m.notifications[studentID]), nil
}

func (m *MemoryStore) GetTnx(ctx context.Context, studentID string, from time.Time, to time.Time) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tnxs []models.Transaction
	for _, t := range m.tnx[studentID] {
		if t.CreatedAt.Before(from) || t.CreatedAt.After(to) {
			continue
		}
		tnxs = append(tnxs, t)
	}
	return tnxs, nil
}

func unread(list []models.Notification) int {
	count := 0
	for _, n := range list {
		if !n.IsRead {
			count++
		}
	}
	return count
}

type stagedClaim struct {
	item string
	kind models.ClaimKind
	at   time.Time
}

// Изменения копятся в памяти и применяются в commit
type memoryTx struct {
	store         *MemoryStore
	student       models.Student
	dirty         bool
	tnx           []models.Transaction
	claims        []stagedClaim
	notifications []models.Notification
}

func (t *memoryTx) Student() models.Student {
	return t.student
}

func (t *memoryTx) UpdateStudent(ctx context.Context, student models.Student) error {
	if err := t.store.failure("update_student"); err != nil {
		return err
	}
	student.ID = t.student.ID
	student.Email = t.student.Email
	t.student = student
	t.dirty = true
	return nil
}

func (t *memoryTx) AppendTnx(ctx context.Context, tnx models.Transaction) error {
	if err := t.store.failure("append_tnx"); err != nil {
		return err
	}
	if tnx.ID == "" {
		tnx.ID = uuid.NewString()
	}
	tnx.StudentID = t.student.ID
	t.tnx = append(t.tnx, tnx)
	return nil
}

func (t *memoryTx) Claim(ctx context.Context, itemID string, kind models.ClaimKind) (models.ClaimRecord, error) {
	record, err := t.store.GetClaim(ctx, t.student.ID, itemID, kind)
	if err != nil {
		return record, err
	}
	for _, c := range t.claims {
		if c.item == itemID && c.kind == kind {
			record.ClaimedTimestamps = append(record.ClaimedTimestamps, c.at)
		}
	}
	return record, nil
}

func (t *memoryTx) AppendClaim(ctx context.Context, itemID string, kind models.ClaimKind, at time.Time) error {
	if err := t.store.failure("append_claim"); err != nil {
		return err
	}
	t.claims = append(t.claims, stagedClaim{itemID, kind, at})
	return nil
}

func (t *memoryTx) AppendNotification(ctx context.Context, n models.Notification) error {
	if err := t.store.failure("append_notification"); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	t.notifications = append(t.notifications, n)
	return nil
}

func (t *memoryTx) UnreadCount(ctx context.Context) (int, error) {
	count, err := t.store.UnreadCount(ctx, t.student.ID)
	if err != nil {
		return 0, err
	}
	return count + unread(t.notifications), nil
}

// MemoryCache keeps balances and reload confirmations in memory.
type MemoryCache struct {
	mu            sync.Mutex
	balances      map[string]models.Balance
	confirmations map[string]memoryConfirmation
	now           func() time.Time
}

type memoryConfirmation struct {
	c       interf.Confirmation
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		balances:      make(map[string]models.Balance),
		confirmations: make(map[string]memoryConfirmation),
		now:           time.Now,
	}
}

func (c *MemoryCache) GetBalance(ctx context.Context, studentID string) (models.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.balances[studentID]
	if !ok {
		return models.Balance{}, models.ErrNotFound
	}
	return b, nil
}

func (c *MemoryCache) SetBalance(ctx context.Context, studentID string, balance models.Balance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[studentID] = balance
	return nil
}

func (c *MemoryCache) InvalidateBalance(ctx context.Context, studentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.balances, studentID)
	return nil
}

func (c *MemoryCache) SaveConfirmation(ctx context.Context, conf interf.Confirmation, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmations[conf.Token] = memoryConfirmation{conf, c.now().Add(ttl)}
	return nil
}

// Токен одноразовый: удаляется при чтении
func (c *MemoryCache) TakeConfirmation(ctx context.Context, token string) (interf.Confirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mc, ok := c.confirmations[token]
	if !ok {
		return interf.Confirmation{}, models.ErrNotFound
	}
	delete(c.confirmations, token)
	if c.now().After(mc.expires) {
		return interf.Confirmation{}, models.ErrNotFound
	}
	return mc.c, nil
}
