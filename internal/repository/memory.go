package repository

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pointsledger/internal/model"
)

// MemoryRepository хранит журнал в памяти процесса. Транзакции выполняются
// последовательно над копией состояния: фиксация подменяет состояние копией,
// откат её отбрасывает, поэтому частичные изменения никогда не видны.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	users    map[int64]model.User
	bets     map[int64]model.Bet
	rewards  map[int64]model.Reward
	codes    map[string]int64
	entries  []model.LedgerEntry
	settings map[string]model.Setting
	periods  map[int64]model.AnalysisPeriod
	seq      int64
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			users:    make(map[int64]model.User),
			bets:     make(map[int64]model.Bet),
			rewards:  make(map[int64]model.Reward),
			codes:    make(map[string]int64),
			settings: make(map[string]model.Setting),
			periods:  make(map[int64]model.AnalysisPeriod),
		},
		now: time.Now,
	}
}

// SetClock подменяет источник времени для created_at и подобных полей.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (s *memState) clone() *memState {
	return &memState{
		users:    maps.Clone(s.users),
		bets:     maps.Clone(s.bets),
		rewards:  maps.Clone(s.rewards),
		codes:    maps.Clone(s.codes),
		entries:  slices.Clone(s.entries),
		settings: maps.Clone(s.settings),
		periods:  maps.Clone(s.periods),
		seq:      s.seq,
	}
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

// Close ничего не освобождает и нужен для соответствия контракту хранилища.
func (r *MemoryRepository) Close() error {
	return nil
}

// WithinTx выполняет fn над копией состояния и фиксирует её только при успехе.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	work := r.state.clone()
	if err := fn(ctx, &memoryTx{st: work, now: r.now}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	r.state = work
	return nil
}

func (r *MemoryRepository) CreateUser(_ context.Context, u model.NewUser, affiliateCode string) (*model.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.state.users {
		if existing.TelegramID == u.TelegramID {
			return &existing, false, nil
		}
	}
	for _, existing := range r.state.users {
		if existing.AffiliateCode == affiliateCode {
			return nil, false, fmt.Errorf("%w: affiliate code %s", model.ErrConflict, affiliateCode)
		}
	}

	now := r.now()
	created := model.User{
		ID:            r.state.nextID(),
		TelegramID:    u.TelegramID,
		Username:      u.Username,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		AffiliateCode: affiliateCode,
		ReferredBy:    u.ReferredBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.state.users[created.ID] = created
	return &created, true, nil
}

func (r *MemoryRepository) GetUser(_ context.Context, userID int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.state.users[userID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) GetUserByTelegramID(_ context.Context, telegramID int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.state.users {
		if u.TelegramID == telegramID {
			return &u, nil
		}
	}
	return nil, model.ErrUserNotFound
}

func (r *MemoryRepository) ListUsers(_ context.Context, offset, limit int) ([]model.User, error) {
	r.mu.Lock()
	users := slices.Collect(maps.Values(r.state.users))
	r.mu.Unlock()

	slices.SortFunc(users, func(a, b model.User) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})

	if offset >= len(users) {
		return nil, nil
	}
	users = users[offset:]
	if limit < len(users) {
		users = users[:limit]
	}
	return users, nil
}

func (r *MemoryRepository) SetUserBanned(_ context.Context, userID int64, banned bool) error {
	return r.updateUser(userID, func(u *model.User) { u.IsBanned = banned })
}

func (r *MemoryRepository) SetUserAdmin(_ context.Context, userID int64, admin bool) error {
	return r.updateUser(userID, func(u *model.User) { u.IsAdmin = admin })
}

func (r *MemoryRepository) updateUser(userID int64, fn func(u *model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.state.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = r.now()
	r.state.users[userID] = u
	return nil
}

func (r *MemoryRepository) ListPendingBets(_ context.Context) ([]model.Bet, error) {
	return r.selectBets(func(b model.Bet) bool { return !b.IsApproved }), nil
}

func (r *MemoryRepository) GetBetsByUser(_ context.Context, userID int64) ([]model.Bet, error) {
	return r.selectBets(func(b model.Bet) bool { return b.UserID == userID }), nil
}

func (r *MemoryRepository) selectBets(keep func(model.Bet) bool) []model.Bet {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Bet
	for _, b := range r.state.bets {
		if keep(b) {
			res = append(res, b)
		}
	}
	slices.SortFunc(res, func(a, b model.Bet) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return res
}

func (r *MemoryRepository) ListActiveRewards(_ context.Context, now time.Time) ([]model.Reward, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Reward
	for _, rw := range r.state.rewards {
		if !rw.IsUsed && !rw.Expired(now) {
			res = append(res, rw)
		}
	}
	slices.SortFunc(res, func(a, b model.Reward) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return res, nil
}

func (r *MemoryRepository) GetTransactions(_ context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.LedgerEntry
	for _, e := range r.state.entries {
		if e.UserID == userID {
			res = append(res, e)
		}
	}
	slices.SortFunc(res, func(a, b model.LedgerEntry) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit < len(res) {
		res = res[:limit]
	}
	return res, nil
}

func (r *MemoryRepository) GetSetting(_ context.Context, key string) (*model.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.state.settings[key]
	if !ok {
		return nil, model.ErrSettingMissing
	}
	return &s, nil
}

func (r *MemoryRepository) UpsertSetting(_ context.Context, key, value string) (*model.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := model.Setting{Key: key, Value: value, UpdatedAt: r.now()}
	r.state.settings[key] = s
	return &s, nil
}

func (r *MemoryRepository) ListSettings(_ context.Context) ([]model.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := slices.Collect(maps.Values(r.state.settings))
	slices.SortFunc(res, func(a, b model.Setting) int { return cmp.Compare(a.Key, b.Key) })
	return res, nil
}

func (r *MemoryRepository) ListAnalysisPeriods(_ context.Context, activeOnly bool) ([]model.AnalysisPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.AnalysisPeriod
	for _, p := range r.state.periods {
		if p.IsActive || !activeOnly {
			res = append(res, p)
		}
	}
	slices.SortFunc(res, func(a, b model.AnalysisPeriod) int {
		if c := cmp.Compare(a.PeriodMinutes, b.PeriodMinutes); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res, nil
}

func (r *MemoryRepository) GetAnalysisPeriod(_ context.Context, id int64) (*model.AnalysisPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.state.periods[id]
	if !ok {
		return nil, model.ErrPeriodNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) CreateAnalysisPeriod(_ context.Context, minutes int, multiplier decimal.Decimal) (*model.AnalysisPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := model.AnalysisPeriod{
		ID:             r.state.nextID(),
		PeriodMinutes:  minutes,
		CostMultiplier: multiplier,
		IsActive:       true,
		CreatedAt:      r.now(),
	}
	r.state.periods[p.ID] = p
	return &p, nil
}

func (r *MemoryRepository) UpdateAnalysisPeriod(_ context.Context, id int64, patch model.AnalysisPeriodPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.state.periods[id]
	if !ok {
		return model.ErrPeriodNotFound
	}
	if patch.PeriodMinutes != nil {
		p.PeriodMinutes = *patch.PeriodMinutes
	}
	if patch.CostMultiplier != nil {
		p.CostMultiplier = *patch.CostMultiplier
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	r.state.periods[id] = p
	return nil
}

func (r *MemoryRepository) Stats(_ context.Context) (*model.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := model.Stats{TotalUsers: int64(len(r.state.users))}
	for _, u := range r.state.users {
		st.TotalPoints += u.Points
	}
	for _, b := range r.state.bets {
		if !b.IsApproved {
			st.PendingBets++
		}
	}
	return &st, nil
}

func newestFirst(aTime, bTime time.Time, aID, bID int64) int {
	if c := bTime.Compare(aTime); c != 0 {
		return c
	}
	return cmp.Compare(bID, aID)
}

type memoryTx struct {
	st  *memState
	now func() time.Time
}

func (t *memoryTx) GetUserForUpdate(_ context.Context, userID int64) (*model.User, error) {
	u, ok := t.st.users[userID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return &u, nil
}

func (t *memoryTx) AdjustBalance(_ context.Context, userID int64, delta model.Points) (model.Points, error) {
	u, ok := t.st.users[userID]
	if !ok {
		return 0, model.ErrUserNotFound
	}
	u.Points += delta
	u.UpdatedAt = t.now()
	t.st.users[userID] = u
	return u.Points, nil
}

func (t *memoryTx) AddLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	if _, ok := t.st.users[e.UserID]; !ok {
		return model.ErrUserNotFound
	}
	e.ID = t.st.nextID()
	e.CreatedAt = t.now()
	t.st.entries = append(t.st.entries, *e)
	return nil
}

func (t *memoryTx) InsertBet(_ context.Context, b *model.Bet) error {
	if _, ok := t.st.users[b.UserID]; !ok {
		return model.ErrUserNotFound
	}
	now := t.now()
	b.ID = t.st.nextID()
	b.CreatedAt = now
	b.UpdatedAt = now
	t.st.bets[b.ID] = *b
	return nil
}

func (t *memoryTx) GetBetForUpdate(_ context.Context, betID int64) (*model.Bet, error) {
	b, ok := t.st.bets[betID]
	if !ok {
		return nil, model.ErrBetNotFound
	}
	return &b, nil
}

func (t *memoryTx) MarkBetApproved(_ context.Context, betID, adminID int64, at time.Time) error {
	if _, ok := t.st.users[adminID]; !ok {
		return model.ErrUserNotFound
	}
	b, ok := t.st.bets[betID]
	if !ok || b.IsApproved {
		return fmt.Errorf("approve bet %d: %w", betID, errStaleRow)
	}
	b.IsApproved = true
	b.ApprovedBy = &adminID
	b.ApprovalDate = &at
	b.UpdatedAt = t.now()
	t.st.bets[betID] = b
	return nil
}

func (t *memoryTx) DeletePendingBet(_ context.Context, betID int64) error {
	b, ok := t.st.bets[betID]
	if !ok || b.IsApproved {
		return model.ErrBetNotFound
	}
	delete(t.st.bets, betID)
	return nil
}

func (t *memoryTx) InsertReward(_ context.Context, rw *model.Reward) error {
	if _, exists := t.st.codes[rw.Code]; exists {
		return model.ErrRewardCodeExists
	}
	rw.ID = t.st.nextID()
	rw.CreatedAt = t.now()
	t.st.rewards[rw.ID] = *rw
	t.st.codes[rw.Code] = rw.ID
	return nil
}

func (t *memoryTx) GetRewardForUpdate(_ context.Context, code string) (*model.Reward, error) {
	id, ok := t.st.codes[code]
	if !ok {
		return nil, model.ErrCodeUnknown
	}
	rw := t.st.rewards[id]
	return &rw, nil
}

func (t *memoryTx) MarkRewardUsed(_ context.Context, rewardID, userID int64) error {
	rw, ok := t.st.rewards[rewardID]
	if !ok || rw.IsUsed {
		return model.ErrCodeUsed
	}
	rw.IsUsed = true
	rw.UserID = &userID
	t.st.rewards[rewardID] = rw
	return nil
}
