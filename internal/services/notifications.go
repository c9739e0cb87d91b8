package rewards

import (
	"context"
	"time"

	interf "github.com/glkeru/rewards/internal/interfaces"
	models "github.com/glkeru/rewards/internal/models"
)

// Запрос на отметку: по ID, по позиции или все сразу
type MarkRead struct {
	ID    string
	Index *int
	All   bool
}

type NotificationLog struct {
	db     interf.LedgerStorage
	ledger *Ledger
}

func NewNotificationLog(db interf.LedgerStorage, ledger *Ledger) *NotificationLog {
	return &NotificationLog{db, ledger}
}

// Добавить уведомление отдельной операцией
func (n *NotificationLog) Add(ctx context.Context, studentID string, message string) (unread int, err error) {
	balance, err := n.ledger.Update(ctx, studentID, func(ctx context.Context, tx interf.LedgerTx, student *models.Student, now time.Time) (string, error) {
		return message, nil
	})
	return balance.UnreadCount, err
}

// Новые сверху; Index - позиция в исходной последовательности
func (n *NotificationLog) List(ctx context.Context, studentID string) ([]models.Notification, error) {
	list, err := n.db.ListNotifications(ctx, studentID)
	if err != nil {
		return nil, err
	}
	reversed := make([]models.Notification, len(list))
	for i, v := range list {
		reversed[len(list)-1-i] = v
	}
	return reversed, nil
}

func (n *NotificationLog) MarkRead(ctx context.Context, studentID string, req MarkRead) (int, error) {
	var (
		unread int
		err    error
	)
	switch {
	case req.All:
		unread, err = n.db.MarkAllNotificationsRead(ctx, studentID)
	case req.ID != "":
		unread, err = n.db.MarkNotificationRead(ctx, studentID, req.ID)
	case req.Index != nil:
		unread, err = n.db.MarkNotificationReadAt(ctx, studentID, *req.Index)
	default:
		return 0, &models.ValidationError{Message: "notification id, index or mark_all is required"}
	}
	if err != nil {
		return 0, err
	}
	n.ledger.InvalidateBalance(ctx, studentID)
	return unread, nil
}
