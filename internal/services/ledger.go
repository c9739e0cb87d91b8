package rewards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	interf "github.com/glkeru/rewards/internal/interfaces"
	models "github.com/glkeru/rewards/internal/models"
	"go.uber.org/zap"
)

type change struct {
	currency models.Currency
	delta    int64
}

// Изменения счетчиков студента с записью транзакций
func applyChanges(ctx context.Context, tx interf.LedgerTx, student *models.Student, changes []change, reason string, now time.Time) error {
	for _, c := range changes {
		if c.delta == 0 {
			continue
		}
		value := student.Get(c.currency) + c.delta
		student.Set(c.currency, value)
		err := tx.AppendTnx(ctx, models.Transaction{
			StudentID:    student.ID,
			Currency:     c.currency,
			Delta:        c.delta,
			BalanceAfter: value,
			Reason:       reason,
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}
	}
	return tx.UpdateStudent(ctx, *student)
}

// Итоговый баланс при умножении: floor(original * factor)
func multiplied(value int64, factor float64) int64 {
	return int64(math.Floor(float64(value) * factor))
}

// Изменение для умножения: delta = new - original
func multiplyChange(student models.Student, currency models.Currency, factor float64) change {
	original := student.Get(currency)
	return change{currency, multiplied(original, factor) - original}
}

// Функция изменения под блокировкой; возвращает текст уведомления
type UpdateFunc func(ctx context.Context, tx interf.LedgerTx, student *models.Student, now time.Time) (notification string, err error)

type Ledger struct {
	db     interf.LedgerStorage
	cache  interf.CacheStorage
	logger *zap.Logger
	clock  func() time.Time
}

func NewLedger(db interf.LedgerStorage, cache interf.CacheStorage, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, cache: cache, logger: logger, clock: time.Now}
}

// Атомарное изменение: баланс, история, уведомление фиксируются вместе
func (l *Ledger) Update(ctx context.Context, studentID string, fn UpdateFunc) (models.Balance, error) {
	var balance models.Balance
	err := l.db.WithStudent(ctx, studentID, func(tx interf.LedgerTx) error {
		student := tx.Student()
		now := l.clock()
		message, err := fn(ctx, tx, &student, now)
		if err != nil {
			return err
		}
		if message != "" {
			err = tx.AppendNotification(ctx, models.Notification{Message: message, Timestamp: now})
			if err != nil {
				return err
			}
		}
		unread, err := tx.UnreadCount(ctx)
		if err != nil {
			return err
		}
		balance = student.Balance()
		balance.UnreadCount = unread
		return nil
	})
	if err != nil {
		return models.Balance{}, err
	}
	l.InvalidateBalance(ctx, studentID)
	return balance, nil
}

// Начисление (или списание при отрицательном amount)
func (l *Ledger) Grant(ctx context.Context, studentID string, currency models.Currency, amount int64, reason string, message string) (models.Balance, error) {
	return l.Update(ctx, studentID, func(ctx context.Context, tx interf.LedgerTx, student *models.Student, now time.Time) (string, error) {
		if amount < 0 && student.Get(currency) < -amount {
			return "", &models.InsufficientBalanceError{Currency: currency, Required: -amount, Available: student.Get(currency)}
		}
		return message, applyChanges(ctx, tx, student, []change{{currency, amount}}, reason, now)
	})
}

// Умножение счетчика; delta - изменение, зафиксированное под блокировкой
func (l *Ledger) Multiply(ctx context.Context, studentID string, currency models.Currency, factor float64, reason string, message string) (balance models.Balance, delta int64, err error) {
	if factor <= 0 {
		return models.Balance{}, 0, &models.ConfigurationError{Subject: reason, Err: fmt.Errorf("factor must be positive, got %v", factor)}
	}
	balance, err = l.Update(ctx, studentID, func(ctx context.Context, tx interf.LedgerTx, student *models.Student, now time.Time) (string, error) {
		c := multiplyChange(*student, currency, factor)
		delta = c.delta
		return message, applyChanges(ctx, tx, student, []change{c}, reason, now)
	})
	if err != nil {
		return models.Balance{}, 0, err
	}
	return balance, delta, nil
}

// баланс: сначала кэш, потом хранилище
func (l *Ledger) Balance(ctx context.Context, student models.Student) (models.Balance, error) {
	if l.cache != nil {
		balance, err := l.cache.GetBalance(ctx, student.ID)
		if err == nil {
			return balance, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			l.logger.Warn("cache get balance", zap.String("student", student.ID), zap.Error(err))
		}
	}
	unread, err := l.db.UnreadCount(ctx, student.ID)
	if err != nil {
		return models.Balance{}, err
	}
	balance := student.Balance()
	balance.UnreadCount = unread
	if l.cache != nil {
		_ = l.cache.SetBalance(ctx, student.ID, balance)
	}
	return balance, nil
}

// инвалидировать кэш баланса
func (l *Ledger) InvalidateBalance(ctx context.Context, studentID string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.InvalidateBalance(ctx, studentID); err != nil {
		l.logger.Error("cache invalidate", zap.String("student", studentID), zap.Error(err))
	}
}

func (l *Ledger) Transactions(ctx context.Context, studentID string, from time.Time, to time.Time) ([]models.Transaction, error) {
	return l.db.GetTnx(ctx, studentID, from, to)
}
