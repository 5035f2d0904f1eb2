// Package repository содержит реализации хранилища журнала баллов:
// PostgreSQL для эксплуатации и in-memory для тестов и локального запуска.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/pointsledger/internal/model"
)

// Tx описывает операции, выполняемые внутри одной транзакции хранилища.
// Методы с суффиксом ForUpdate блокируют строку до конца транзакции.
type Tx interface {
	GetUserForUpdate(ctx context.Context, userID int64) (*model.User, error)
	// AdjustBalance атомарно прибавляет delta к балансу и возвращает новое значение.
	AdjustBalance(ctx context.Context, userID int64, delta model.Points) (model.Points, error)
	AddLedgerEntry(ctx context.Context, e *model.LedgerEntry) error

	InsertBet(ctx context.Context, b *model.Bet) error
	GetBetForUpdate(ctx context.Context, betID int64) (*model.Bet, error)
	MarkBetApproved(ctx context.Context, betID, adminID int64, at time.Time) error
	DeletePendingBet(ctx context.Context, betID int64) error

	InsertReward(ctx context.Context, r *model.Reward) error
	GetRewardForUpdate(ctx context.Context, code string) (*model.Reward, error)
	MarkRewardUsed(ctx context.Context, rewardID, userID int64) error
}

// TxFunc задаёт тело транзакции. Возврат ошибки откатывает все изменения.
type TxFunc func(ctx context.Context, tx Tx) error

// errStaleRow возвращается, если условное обновление не затронуло строку:
// её состояние изменилось после чтения.
var errStaleRow = errors.New("row changed concurrently")

// ErrCommitUncertain означает, что фиксация оборвалась после отправки COMMIT:
// транзакция могла примениться на сервере, повторять её нельзя.
var ErrCommitUncertain = errors.New("commit outcome unknown")

// IsTransient сообщает, имеет ли смысл повторить операцию целиком:
// конфликт сериализации, взаимоблокировка или ошибка соединения, при которой
// запрос не дошёл до сервера.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCommitUncertain) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return pgconn.SafeToRetry(err)
}
