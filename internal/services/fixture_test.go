package rewards

import (
	"context"
	"testing"
	"time"

	db "github.com/glkeru/rewards/internal/db"
	interf "github.com/glkeru/rewards/internal/interfaces"
	models "github.com/glkeru/rewards/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store   *db.MemoryStore
	cache   *db.MemoryCache
	service *RewardsService
	now     time.Time
}

func newFixture(t *testing.T, dispatcher interf.ReloadDispatcher) *fixture {
	t.Helper()
	store := db.NewMemoryStore()
	cache := db.NewMemoryCache()
	f := &fixture{
		store: store,
		cache: cache,
		now:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewRewardsService(Deps{
		Students:   store,
		Catalog:    store,
		Rules:      store,
		Ledger:     store,
		Cache:      cache,
		Dispatcher: dispatcher,
	}, zap.NewNop())
	f.service.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) addStudent(t *testing.T, s models.Student) models.Student {
	t.Helper()
	id, err := f.store.CreateStudent(context.Background(), s)
	require.NoError(t, err)
	student, err := f.store.GetStudent(context.Background(), id)
	require.NoError(t, err)
	return student
}

func (f *fixture) reload(t *testing.T, s models.Student) models.Student {
	t.Helper()
	student, err := f.store.GetStudent(context.Background(), s.ID)
	require.NoError(t, err)
	return student
}

func (f *fixture) addReward(t *testing.T, item models.RewardItem) models.RewardItem {
	t.Helper()
	id, err := f.store.SaveRewardItem(context.Background(), item)
	require.NoError(t, err)
	item.ID = id
	return item
}

func (f *fixture) addQuest(t *testing.T, quest models.Quest) models.Quest {
	t.Helper()
	id, err := f.store.SaveQuest(context.Background(), quest)
	require.NoError(t, err)
	quest.ID = id
	return quest
}

func (f *fixture) tnx(t *testing.T, s models.Student) []models.Transaction {
	t.Helper()
	list, err := f.store.GetTnx(context.Background(), s.ID, time.Time{}, f.now.Add(time.Hour))
	require.NoError(t, err)
	return list
}

func (f *fixture) notifications(t *testing.T, s models.Student) []models.Notification {
	t.Helper()
	list, err := f.store.ListNotifications(context.Background(), s.ID)
	require.NoError(t, err)
	return list
}

func timePtr(t time.Time) *time.Time {
	return &t
}
