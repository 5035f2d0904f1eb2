package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pointsledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	userColumns = `id, telegram_id, username, first_name, last_name, points, affiliate_code,
		referred_by, is_banned, is_admin, last_interaction, created_at, updated_at`
	betColumns = `id, user_id, platform, game, bet_amount, win_amount, loss_amount, start_time,
		end_time, duration_seconds, proof_image, bet_type, is_approved, approved_by, approval_date,
		created_at, updated_at`
	rewardColumns = `id, code, points, user_id, is_used, reason, expires_at, created_at`
	periodColumns = `id, period_minutes, cost_multiplier::text, is_active, created_at`
	entryColumns  = `id, user_id, amount, kind, reference, balance_after, created_at`
)

// PostgresRepository предоставляет доступ к журналу баллов в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Если fn вернула ошибку
// или фиксация не удалась, изменения откатываются целиком.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// сервер ответил ошибкой, значит транзакция откачена
			return fmt.Errorf("commit tx: %w", err)
		}
		return fmt.Errorf("commit tx: %w: %w", ErrCommitUncertain, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u      model.User
		points int64
	)
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &points,
		&u.AffiliateCode, &u.ReferredBy, &u.IsBanned, &u.IsAdmin, &u.LastInteraction,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Points = model.Points(points)
	return &u, nil
}

func scanBet(row rowScanner) (*model.Bet, error) {
	var (
		b         model.Bet
		betAmount int64
		win, loss *int64
	)
	err := row.Scan(&b.ID, &b.UserID, &b.Platform, &b.Game, &betAmount, &win, &loss,
		&b.StartTime, &b.EndTime, &b.DurationSeconds, &b.ProofImage, &b.BetType,
		&b.IsApproved, &b.ApprovedBy, &b.ApprovalDate, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.BetAmount = model.Points(betAmount)
	b.WinAmount = pointsPtr(win)
	b.LossAmount = pointsPtr(loss)
	return &b, nil
}

func scanReward(row rowScanner) (*model.Reward, error) {
	var (
		rw     model.Reward
		points int64
	)
	err := row.Scan(&rw.ID, &rw.Code, &points, &rw.UserID, &rw.IsUsed, &rw.Reason, &rw.ExpiresAt, &rw.CreatedAt)
	if err != nil {
		return nil, err
	}
	rw.Points = model.Points(points)
	return &rw, nil
}

func scanPeriod(row rowScanner) (*model.AnalysisPeriod, error) {
	var (
		p    model.AnalysisPeriod
		mult string
	)
	if err := row.Scan(&p.ID, &p.PeriodMinutes, &mult, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(mult)
	if err != nil {
		return nil, fmt.Errorf("parse cost multiplier %q: %w", mult, err)
	}
	p.CostMultiplier = d
	return &p, nil
}

func scanEntry(row rowScanner) (*model.LedgerEntry, error) {
	var (
		e             model.LedgerEntry
		amount, after int64
		kind          string
	)
	if err := row.Scan(&e.ID, &e.UserID, &amount, &kind, &e.Reference, &after, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Amount = model.Points(amount)
	e.BalanceAfter = model.Points(after)
	e.Kind = model.EntryKind(kind)
	return &e, nil
}

func pointsPtr(v *int64) *model.Points {
	if v == nil {
		return nil
	}
	p := model.Points(*v)
	return &p
}

func int64Ptr(p *model.Points) *int64 {
	if p == nil {
		return nil
	}
	v := int64(*p)
	return &v
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]T, error) {
	defer rows.Close()

	var res []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		res = append(res, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// CreateUser регистрирует пользователя. Если Telegram ID уже известен,
// возвращает существующую запись и created = false.
func (r *PostgresRepository) CreateUser(ctx context.Context, u model.NewUser, affiliateCode string) (*model.User, bool, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (telegram_id, username, first_name, last_name, affiliate_code, referred_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (telegram_id) DO NOTHING
		 RETURNING `+userColumns,
		u.TelegramID, u.Username, u.FirstName, u.LastName, affiliateCode, u.ReferredBy,
	)

	created, err := scanUser(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if isPgCode(err, pgerrcode.UniqueViolation) {
			return nil, false, fmt.Errorf("%w: affiliate code %s", model.ErrConflict, affiliateCode)
		}
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	existing, err := r.GetUserByTelegramID(ctx, u.TelegramID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetUser возвращает пользователя по внутреннему идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByTelegramID возвращает пользователя по Telegram ID.
func (r *PostgresRepository) GetUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by telegram id: %w", err)
	}
	return u, nil
}

// ListUsers возвращает страницу пользователей, новые первыми.
func (r *PostgresRepository) ListUsers(ctx context.Context, offset, limit int) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	return collect(rows, scanUser)
}

// SetUserBanned выставляет признак блокировки пользователя.
func (r *PostgresRepository) SetUserBanned(ctx context.Context, userID int64, banned bool) error {
	return r.updateUserFlag(ctx, `UPDATE users SET is_banned = $2, updated_at = NOW() WHERE id = $1`, userID, banned)
}

// SetUserAdmin выставляет признак администратора.
func (r *PostgresRepository) SetUserAdmin(ctx context.Context, userID int64, admin bool) error {
	return r.updateUserFlag(ctx, `UPDATE users SET is_admin = $2, updated_at = NOW() WHERE id = $1`, userID, admin)
}

func (r *PostgresRepository) updateUserFlag(ctx context.Context, query string, userID int64, value bool) error {
	tag, err := r.pool.Exec(ctx, query, userID, value)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// ListPendingBets возвращает неодобренные отчёты, новые первыми.
func (r *PostgresRepository) ListPendingBets(ctx context.Context) ([]model.Bet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE NOT is_approved ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending bets: %w", err)
	}
	return collect(rows, scanBet)
}

// GetBetsByUser возвращает все отчёты пользователя, новые первыми.
func (r *PostgresRepository) GetBetsByUser(ctx context.Context, userID int64) ([]model.Bet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select user bets: %w", err)
	}
	return collect(rows, scanBet)
}

// ListActiveRewards возвращает неиспользованные коды, не истёкшие к моменту now.
func (r *PostgresRepository) ListActiveRewards(ctx context.Context, now time.Time) ([]model.Reward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+rewardColumns+`
		 FROM rewards
		 WHERE NOT is_used AND (expires_at IS NULL OR expires_at >= $1)
		 ORDER BY created_at DESC, id DESC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select active rewards: %w", err)
	}
	return collect(rows, scanReward)
}

// GetTransactions возвращает последние записи журнала пользователя.
func (r *PostgresRepository) GetTransactions(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM point_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	return collect(rows, scanEntry)
}

// GetSetting возвращает системную настройку по ключу.
func (r *PostgresRepository) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	var s model.Setting
	err := r.pool.QueryRow(ctx,
		`SELECT key, value, updated_at FROM system_settings WHERE key = $1`, key,
	).Scan(&s.Key, &s.Value, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSettingMissing
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return &s, nil
}

// UpsertSetting создаёт или обновляет настройку.
func (r *PostgresRepository) UpsertSetting(ctx context.Context, key, value string) (*model.Setting, error) {
	var s model.Setting
	err := r.pool.QueryRow(ctx,
		`INSERT INTO system_settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		 RETURNING key, value, updated_at`,
		key, value,
	).Scan(&s.Key, &s.Value, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert setting: %w", err)
	}
	return &s, nil
}

// ListSettings возвращает все настройки, упорядоченные по ключу.
func (r *PostgresRepository) ListSettings(ctx context.Context) ([]model.Setting, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value, updated_at FROM system_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("select settings: %w", err)
	}
	return collect(rows, func(row rowScanner) (*model.Setting, error) {
		var s model.Setting
		if err := row.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, err
		}
		return &s, nil
	})
}

// ListAnalysisPeriods возвращает периоды анализа; activeOnly скрывает деактивированные.
func (r *PostgresRepository) ListAnalysisPeriods(ctx context.Context, activeOnly bool) ([]model.AnalysisPeriod, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+periodColumns+`
		 FROM analysis_periods
		 WHERE is_active OR NOT $1
		 ORDER BY period_minutes, id`,
		activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("select analysis periods: %w", err)
	}
	return collect(rows, scanPeriod)
}

// GetAnalysisPeriod возвращает период анализа по идентификатору.
func (r *PostgresRepository) GetAnalysisPeriod(ctx context.Context, id int64) (*model.AnalysisPeriod, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM analysis_periods WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPeriodNotFound
		}
		return nil, fmt.Errorf("get analysis period: %w", err)
	}
	return p, nil
}

// CreateAnalysisPeriod сохраняет новый активный период анализа.
func (r *PostgresRepository) CreateAnalysisPeriod(ctx context.Context, minutes int, multiplier decimal.Decimal) (*model.AnalysisPeriod, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx,
		`INSERT INTO analysis_periods (period_minutes, cost_multiplier)
		 VALUES ($1, $2::text::numeric)
		 RETURNING `+periodColumns,
		minutes, multiplier.String(),
	))
	if err != nil {
		return nil, fmt.Errorf("insert analysis period: %w", err)
	}
	return p, nil
}

// UpdateAnalysisPeriod применяет частичное изменение периода анализа.
func (r *PostgresRepository) UpdateAnalysisPeriod(ctx context.Context, id int64, patch model.AnalysisPeriodPatch) error {
	var mult *string
	if patch.CostMultiplier != nil {
		s := patch.CostMultiplier.String()
		mult = &s
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE analysis_periods
		 SET period_minutes  = COALESCE($2, period_minutes),
		     cost_multiplier = COALESCE($3::text::numeric, cost_multiplier),
		     is_active       = COALESCE($4, is_active)
		 WHERE id = $1`,
		id, patch.PeriodMinutes, mult, patch.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update analysis period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrPeriodNotFound
	}
	return nil
}

// Stats возвращает агрегаты по пользователям, отчётам и баллам.
func (r *PostgresRepository) Stats(ctx context.Context) (*model.Stats, error) {
	var (
		st     model.Stats
		points int64
	)
	err := r.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM users),
		   (SELECT COUNT(*) FROM bets WHERE NOT is_approved),
		   (SELECT COALESCE(SUM(points), 0)::BIGINT FROM users)`,
	).Scan(&st.TotalUsers, &st.PendingBets, &points)
	if err != nil {
		return nil, fmt.Errorf("select stats: %w", err)
	}
	st.TotalPoints = model.Points(points)
	return &st, nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) GetUserForUpdate(ctx context.Context, userID int64) (*model.User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user for update: %w", err)
	}
	return u, nil
}

func (t *postgresTx) AdjustBalance(ctx context.Context, userID int64, delta model.Points) (model.Points, error) {
	var balance int64
	err := t.tx.QueryRow(ctx,
		`UPDATE users SET points = points + $2, updated_at = NOW() WHERE id = $1 RETURNING points`,
		userID, int64(delta),
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, model.ErrUserNotFound
		}
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return model.Points(balance), nil
}

func (t *postgresTx) AddLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO point_transactions (user_id, amount, kind, reference, balance_after)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		e.UserID, int64(e.Amount), string(e.Kind), e.Reference, int64(e.BalanceAfter),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (t *postgresTx) InsertBet(ctx context.Context, b *model.Bet) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO bets (user_id, platform, game, bet_amount, win_amount, loss_amount,
		                   start_time, end_time, duration_seconds, proof_image, bet_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		b.UserID, b.Platform, b.Game, int64(b.BetAmount), int64Ptr(b.WinAmount), int64Ptr(b.LossAmount),
		b.StartTime, b.EndTime, b.DurationSeconds, b.ProofImage, b.BetType,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isPgCode(err, pgerrcode.ForeignKeyViolation) {
			return model.ErrUserNotFound
		}
		return fmt.Errorf("insert bet: %w", err)
	}
	return nil
}

func (t *postgresTx) GetBetForUpdate(ctx context.Context, betID int64) (*model.Bet, error) {
	b, err := scanBet(t.tx.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, betID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrBetNotFound
		}
		return nil, fmt.Errorf("lock bet for update: %w", err)
	}
	return b, nil
}

func (t *postgresTx) MarkBetApproved(ctx context.Context, betID, adminID int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE bets
		 SET is_approved = TRUE, approved_by = $2, approval_date = $3, updated_at = NOW()
		 WHERE id = $1 AND NOT is_approved`,
		betID, adminID, at,
	)
	if err != nil {
		if isPgCode(err, pgerrcode.ForeignKeyViolation) {
			return model.ErrUserNotFound
		}
		return fmt.Errorf("approve bet: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("approve bet %d: %w", betID, errStaleRow)
	}
	return nil
}

func (t *postgresTx) DeletePendingBet(ctx context.Context, betID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM bets WHERE id = $1 AND NOT is_approved`, betID)
	if err != nil {
		return fmt.Errorf("delete bet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrBetNotFound
	}
	return nil
}

func (t *postgresTx) InsertReward(ctx context.Context, rw *model.Reward) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO rewards (code, points, reason, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		rw.Code, int64(rw.Points), rw.Reason, rw.ExpiresAt,
	).Scan(&rw.ID, &rw.CreatedAt)
	if err != nil {
		if isPgCode(err, pgerrcode.UniqueViolation) {
			return model.ErrRewardCodeExists
		}
		return fmt.Errorf("insert reward: %w", err)
	}
	return nil
}

func (t *postgresTx) GetRewardForUpdate(ctx context.Context, code string) (*model.Reward, error) {
	rw, err := scanReward(t.tx.QueryRow(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE code = $1 FOR UPDATE`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrCodeUnknown
		}
		return nil, fmt.Errorf("lock reward for update: %w", err)
	}
	return rw, nil
}

func (t *postgresTx) MarkRewardUsed(ctx context.Context, rewardID, userID int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE rewards SET is_used = TRUE, user_id = $2 WHERE id = $1 AND NOT is_used`,
		rewardID, userID,
	)
	if err != nil {
		return fmt.Errorf("mark reward used: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return model.ErrCodeUsed
	}
	return nil
}
