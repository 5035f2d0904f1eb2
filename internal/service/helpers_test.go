package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointsledger/internal/model"
	"github.com/mmeshcher/pointsledger/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, policy Policy) (*Service, *repository.MemoryRepository, *testClock) {
	t.Helper()

	clock := newTestClock()
	repo := repository.NewMemoryRepository()
	repo.SetClock(clock.Now)

	svc := NewService(repo, policy, zap.NewNop())
	svc.now = clock.Now

	return svc, repo, clock
}

// newUser регистрирует пользователя и пополняет баланс до initial.
func newUser(t *testing.T, svc *Service, telegramID int64, initial model.Points) *model.User {
	t.Helper()

	ctx := context.Background()
	u, err := svc.RegisterUser(ctx, model.NewUser{TelegramID: telegramID, FirstName: "Tester"})
	require.NoError(t, err)

	if initial != 0 {
		_, err = svc.AdjustBalance(ctx, u.ID, initial, "seed")
		require.NoError(t, err)
	}
	return u
}

func balanceOf(t *testing.T, svc *Service, userID int64) model.Points {
	t.Helper()

	balance, err := svc.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func pts(v int64) *model.Points {
	p := model.PointsFromInt(v)
	return &p
}

func sampleBet(userID int64, start time.Time) model.Bet {
	return model.Bet{
		UserID:    userID,
		Platform:  "Blaze",
		Game:      "Crash",
		BetAmount: model.PointsFromInt(20),
		WinAmount: pts(50),
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		BetType:   "live",
	}
}

var errInjected = errors.New("injected write failure")

// faultyStore оборачивает in-memory хранилище и роняет выбранную операцию транзакции.
type faultyStore struct {
	*repository.MemoryRepository
	failOn string
}

func (f *faultyStore) WithinTx(ctx context.Context, fn repository.TxFunc) error {
	return f.MemoryRepository.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, failOn: f.failOn})
	})
}

type faultyTx struct {
	repository.Tx
	failOn string
}

func (t *faultyTx) AdjustBalance(ctx context.Context, userID int64, delta model.Points) (model.Points, error) {
	if t.failOn == "AdjustBalance" {
		return 0, errInjected
	}
	return t.Tx.AdjustBalance(ctx, userID, delta)
}

func (t *faultyTx) AddLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	if t.failOn == "AddLedgerEntry" {
		return errInjected
	}
	return t.Tx.AddLedgerEntry(ctx, e)
}

func (t *faultyTx) MarkBetApproved(ctx context.Context, betID, adminID int64, at time.Time) error {
	if t.failOn == "MarkBetApproved" {
		return errInjected
	}
	return t.Tx.MarkBetApproved(ctx, betID, adminID, at)
}
