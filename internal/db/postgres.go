package rewards

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	interf "github.com/glkeru/rewards/internal/interfaces"
	models "github.com/glkeru/rewards/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id uuid PRIMARY KEY,
	email text NOT NULL UNIQUE,
	points bigint NOT NULL DEFAULT 0,
	coins bigint NOT NULL DEFAULT 0,
	stars bigint NOT NULL DEFAULT 0,
	mobile_number text,
	last_daily_reward_claimed timestamptz
);
CREATE TABLE IF NOT EXISTS tnx (
	id uuid PRIMARY KEY,
	student_id uuid NOT NULL REFERENCES students(id),
	currency text NOT NULL,
	delta bigint NOT NULL,
	balance_after bigint NOT NULL,
	reason text NOT NULL,
	created_at timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS claims (
	student_id uuid NOT NULL REFERENCES students(id),
	item_id text NOT NULL,
	kind text NOT NULL,
	claimed_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS claims_student_item ON claims (student_id, item_id, kind);
CREATE TABLE IF NOT EXISTS notifications (
	seq bigserial PRIMARY KEY,
	id uuid NOT NULL UNIQUE,
	student_id uuid NOT NULL REFERENCES students(id),
	message text NOT NULL,
	is_read boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS notifications_student ON notifications (student_id, seq);
`

type LedgerDB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewLedgerDB(logger *zap.Logger) (db *LedgerDB, err error) {
	// config
	purl := os.Getenv("REWARDS_DB")
	if purl == "" {
		return nil, fmt.Errorf("env REWARDS_DB is not set")
	}
	port := os.Getenv("REWARDS_DB_PORT")
	if port == "" {
		return nil, fmt.Errorf("env REWARDS_DB_PORT is not set")
	}
	user := os.Getenv("REWARDS_DB_USER")
	if user == "" {
		return nil, fmt.Errorf("env REWARDS_DB_USER is not set")
	}
	password := os.Getenv("REWARDS_DB_PASSWORD")
	if password == "" {
		return nil, fmt.Errorf("env REWARDS_DB_PASSWORD is not set")
	}
	database := os.Getenv("REWARDS_DB_BASE")
	if database == "" {
		return nil, fmt.Errorf("env REWARDS_DB_BASE is not set")
	}
	dsn := "postgres://" + user + ":" + password + "@" + purl + ":" + port + "/" + database

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &LedgerDB{pool, logger}, nil
}

func (p *LedgerDB) Close() {
	p.pool.Close()
}

// Создание таблиц
func (p *LedgerDB) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *LedgerDB) logSQL(msg string, err error, sql string, args []any) {
	p.logger.Error(msg,
		zap.Error(err),
		zap.String("query", sql),
		zap.Any("args", args),
	)
}

var studentColumns = []string{"id", "email", "points", "coins", "stars", "mobile_number", "last_daily_reward_claimed"}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (models.Student, error) {
	var s models.Student
	var mobile pgtype.Text
	var daily pgtype.Timestamptz
	err := row.Scan(&s.ID, &s.Email, &s.Points, &s.Coins, &s.Stars, &mobile, &daily)
	if err != nil {
		return s, err
	}
	if mobile.Status == pgtype.Present {
		s.MobileNumber = mobile.String
	}
	if daily.Status == pgtype.Present {
		t := daily.Time
		s.LastDailyRewardClaimed = &t
	}
	return s, nil
}

func (p *LedgerDB) getStudentBy(ctx context.Context, field string, value string) (models.Student, error) {
	sql, args, err := sq.Select(studentColumns...).
		From("students").
		Where(sq.Eq{field: value}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		p.logSQL("SQL error", err, sql, args)
		return models.Student{}, err
	}
	s, err := scanStudent(p.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Student{}, &models.NotFoundError{Entity: "student", ID: value}
		}
		return models.Student{}, &models.PersistenceError{Op: "get student", Err: err}
	}
	return s, nil
}

func (p *LedgerDB) GetStudent(ctx context.Context, id string) (models.Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Student{}, &models.NotFoundError{Entity: "student", ID: id}
	}
	return p.getStudentBy(ctx, "id", id)
}

func (p *LedgerDB) FindStudentByEmail(ctx context.Context, email string) (models.Student, error) {
	return p.getStudentBy(ctx, "email", email)
}

// Создание студента
func (p *LedgerDB) CreateStudent(ctx context.Context, student models.Student) (string, error) {
	if student.Email == "" {
		return "", &models.ValidationError{Field: "email", Message: "is required"}
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	sql, args, err := sq.Insert("students").
		Columns(studentColumns...).
		Values(student.ID, student.Email, student.Points, student.Coins, student.Stars, student.MobileNumber, student.LastDailyRewardClaimed).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		p.logSQL("SQL error", err, sql, args)
		return "", err
	}
	_, err = p.pool.Exec(ctx, sql, args...)
	if err != nil {
		p.logSQL("SQL error", err, sql, args)
		return "", &models.PersistenceError{Op: "create student", Err: err}
	}
	return student.ID, nil
}

// Атомарная операция над студентом: строка студента блокируется до конца транзакции
func (p *LedgerDB) WithStudent(ctx context.Context, studentID string, fn func(tx interf.LedgerTx) error) (err error) {
	if _, perr := uuid.Parse(studentID); perr != nil {
		return &models.NotFoundError{Entity: "student", ID: studentID}
	}
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "acquire", Err: err}
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return &models.PersistenceError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.Background())
		}
	}()

	// блокируем строку студента
	sql, args, err := sq.Select(studentColumns...).
		From("students").
		Where(sq.Eq{"id": studentID}).
		Suffix("FOR UPDATE").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	student, err := scanStudent(tx.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.NotFoundError{Entity: "student", ID: studentID}
		}
		p.logger.Error("Block student error", zap.Error(err), zap.String("student", studentID))
		return &models.PersistenceError{Op: "lock student", Err: err}
	}

	ltx := &pgLedgerTx{db: p, tx: tx, student: student}
	if err = fn(ltx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		p.logger.Error("Commit error", zap.Error(err), zap.String("student", studentID))
		return &models.PersistenceError{Op: "commit", Err: err}
	}
	committed = true
	return nil
}

type pgLedgerTx struct {
	db      *LedgerDB
	tx      pgx.Tx
	student models.Student
}

func (t *pgLedgerTx) Student() models.Student {
	return t.student
}

func (t *pgLedgerTx) exec(ctx context.Context, op string, b sq.Sqlizer) error {
	sql, args, err := b.ToSql()
	if err != nil {
		t.db.logSQL("SQL error", err, sql, args)
		return err
	}
	_, err = t.tx.Exec(ctx, sql, args...)
	if err != nil {
		t.db.logSQL("SQL error", err, sql, args)
		return &models.PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (t *pgLedgerTx) UpdateStudent(ctx context.Context, student models.Student) error {
	err := t.exec(ctx, "update student", sq.Update("students").
		Set("points", student.Points).
		Set("coins", student.Coins).
		Set("stars", student.Stars).
		Set("last_daily_reward_claimed", student.LastDailyRewardClaimed).
		Where(sq.Eq{"id": t.student.ID}).
		PlaceholderFormat(sq.Dollar))
	if err != nil {
		return err
	}
	student.ID = t.student.ID
	student.Email = t.student.Email
	t.student = student
	return nil
}

func (t *pgLedgerTx) AppendTnx(ctx context.Context, tnx models.Transaction) error {
	if tnx.ID == "" {
		tnx.ID = uuid.NewString()
	}
	return t.exec(ctx, "append tnx", sq.Insert("tnx").
		Columns("id", "student_id", "currency", "delta", "balance_after", "reason", "created_at").
		Values(tnx.ID, t.student.ID, string(tnx.Currency), tnx.Delta, tnx.BalanceAfter, tnx.Reason, tnx.CreatedAt).
		PlaceholderFormat(sq.Dollar))
}

func (t *pgLedgerTx) Claim(ctx context.Context, itemID string, kind models.ClaimKind) (models.ClaimRecord, error) {
	return t.db.queryClaim(ctx, t.tx, t.student.ID, itemID, kind)
}

func (t *pgLedgerTx) AppendClaim(ctx context.Context, itemID string, kind models.ClaimKind, at time.Time) error {
	return t.exec(ctx, "append claim", sq.Insert("claims").
		Columns("student_id", "item_id", "kind", "claimed_at").
		Values(t.student.ID, itemID, string(kind), at).
		PlaceholderFormat(sq.Dollar))
}

func (t *pgLedgerTx) AppendNotification(ctx context.Context, n models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return t.exec(ctx, "append notification", sq.Insert("notifications").
		Columns("id", "student_id", "message", "is_read", "created_at").
		Values(n.ID, t.student.ID, n.Message, n.IsRead, n.Timestamp).
		PlaceholderFormat(sq.Dollar))
}

func (t *pgLedgerTx) UnreadCount(ctx context.Context) (int, error) {
	return t.db.unreadCount(ctx, t.tx, t.student.ID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *LedgerDB) queryClaim(ctx context.Context, q querier, studentID string, itemID string, kind models.ClaimKind) (models.ClaimRecord, error) {
	record := models.ClaimRecord{StudentID: studentID, ItemID: itemID, Kind: kind}
	sql, args, err := sq.Select("claimed_at").
		From("claims").
		Where(sq.Eq{"student_id": studentID, "item_id": itemID, "kind": string(kind)}).
		OrderBy("claimed_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		p.logSQL("SQL error", err, sql, args)
		return record, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return record, &models.PersistenceError{Op: "get claims", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return record, &models.PersistenceError{Op: "get claims", Err: err}
		}
		record.ClaimedTimestamps = append(record.ClaimedTimestamps, at)
	}
	if err := rows.Err(); err != nil {
		return record, &models.PersistenceError{Op: "get claims", Err: err}
	}
	return record, nil
}

func (p *LedgerDB) GetClaim(ctx context.Context, studentID string, itemID string, kind models.ClaimKind) (models.ClaimRecord, error) {
	return p.queryClaim(ctx, p.pool, studentID, itemID, kind)
}

func (p *LedgerDB) unreadCount(ctx context.Context, q querier, studentID string) (int, error) {
	var count int
	row := q.QueryRow(ctx, "SELECT count(*) FROM notifications WHERE student_id = $1 AND is_read = false", studentID)
	if err := row.Scan(&count); err != nil {
		return 0, &models.PersistenceError{Op: "unread count", Err: err}
	}
	return count, nil
}

func (p *LedgerDB) UnreadCount(ctx context.Context, studentID string) (int, error) {
	return p.unreadCount(ctx, p.pool, studentID)
}

// Уведомления в порядке добавления
func (p *LedgerDB) ListNotifications(ctx context.Context, studentID string) ([]models.Notification, error) {
	sql, args, err := sq.Select("id", "message", "is_read", "created_at").
		From("notifications").
		Where(sq.Eq{"student_id": studentID}).
		OrderBy("seq").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		p.logSQL("SQL error", err, sql, args)
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list notifications", Err: err}
	}
	defer rows.Close()
	var list []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Message, &n.IsRead, &n.Timestamp); err != nil {
			return nil, &models.PersistenceError{Op: "list notifications", Err: err}
		}
		n.Index = len(list)
		list = append(list, n)
	}
	return list, rows.Err()
}

func (p *LedgerDB) markRead(ctx context.Context, studentID string, where sq.Sqlizer, subject string) (int, error) {
	sql, args, err := sq.Update("notifications").
		Set("is_read", true).
		Where(sq.Eq{"student_id": studentID}).
		Where(where).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		p.logSQL("SQL error", err, sql, args)
		return 0, err
	}
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		p.logSQL("SQL error", err, sql, args)
		return 0, &models.PersistenceError{Op: "mark read", Err: err}
	}
	if subject != "" && tag.RowsAffected() == 0 {
		return 0, &models.NotFoundError{Entity: "notification", ID: subject}
	}
	return p.UnreadCount(ctx, studentID)
}

func (p *LedgerDB) MarkNotificationRead(ctx context.Context, studentID string, notificationID string) (int, error) {
	if _, err := uuid.Parse(notificationID); err != nil {
		return 0, &models.NotFoundError{Entity: "notification", ID: notificationID}
	}
	return p.markRead(ctx, studentID, sq.Eq{"id": notificationID}, notificationID)
}

// Отметка по позиции в последовательности уведомлений
func (p *LedgerDB) MarkNotificationReadAt(ctx context.Context, studentID string, index int) (int, error) {
	if index < 0 {
		return 0, &models.NotFoundError{Entity: "notification", ID: strconv.Itoa(index)}
	}
	sub := sq.Expr("seq = (SELECT seq FROM notifications WHERE student_id = ? ORDER BY seq OFFSET ? LIMIT 1)", studentID, index)
	return p.markRead(ctx, studentID, sub, strconv.Itoa(index))
}

func (p *LedgerDB) MarkAllNotificationsRead(ctx context.Context, studentID string) (int, error) {
	return p.markRead(ctx, studentID, sq.Eq{"is_read": false}, "")
}

// Получить транзакции
func (p *LedgerDB) GetTnx(ctx context.Context, studentID string, from time.Time, to time.Time) ([]models.Transaction, error) {
	sql, args, err := sq.Select("id", "student_id", "currency", "delta", "balance_after", "reason", "created_at").
		From("tnx").
		Where(sq.Eq{"student_id": studentID}).
		Where(sq.GtOrEq{"created_at": from}).
		Where(sq.LtOrEq{"created_at": to}).
		OrderBy("created_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		p.logSQL("SQL error", err, sql, args)
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &models.PersistenceError{Op: "get tnx", Err: err}
	}
	defer rows.Close()
	var tnxs []models.Transaction
	for rows.Next() {
		var tnx models.Transaction
		var currency string
		err = rows.Scan(&tnx.ID, &tnx.StudentID, &currency, &tnx.Delta, &tnx.BalanceAfter, &tnx.Reason, &tnx.CreatedAt)
		if err != nil {
			return nil, &models.PersistenceError{Op: "get tnx", Err: err}
		}
		tnx.Currency = models.Currency(currency)
		tnxs = append(tnxs, tnx)
	}
	return tnxs, rows.Err()
}
