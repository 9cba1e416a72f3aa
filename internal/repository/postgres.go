// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dkorolev/missionpass-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrMissionSetNotFound возвращается, если набор миссий не найден.
	ErrMissionSetNotFound = errors.New("mission set not found")
	// ErrOptionNotFound возвращается, если вариант награды не существует
	// или не принадлежит указанному набору миссий.
	ErrOptionNotFound = errors.New("reward option not found")
	// ErrOutOfStock возвращается, когда тираж варианта награды исчерпан.
	ErrOutOfStock = errors.New("reward option out of stock")
	// ErrAlreadyClaimed возвращается, если у пользователя уже есть награда в этом наборе миссий.
	ErrAlreadyClaimed = errors.New("reward already claimed")
	// ErrRewardNotFound возвращается, если запись о награде отсутствует.
	ErrRewardNotFound = errors.New("reward not found")
	// ErrAlreadyRedeemed возвращается при повторной попытке выдать уже выданную награду.
	ErrAlreadyRedeemed = errors.New("reward already redeemed")
	// ErrRewardCanceled возвращается при операции над аннулированной наградой.
	ErrRewardCanceled = errors.New("reward canceled")
	// ErrLockTimeout возвращается, если блокировку строки варианта награды
	// не удалось получить за отведённое время.
	ErrLockTimeout = errors.New("lock acquisition timeout")
)

// lockTimeout ограничивает ожидание блокировки строки варианта награды.
const lockTimeout = 5 * time.Second

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Таймаут блокировки отдаём вызывающему: повторять решает клиент.
		if errors.Is(err, ErrLockTimeout) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetMissionSet возвращает набор миссий вместе с секретом выдачи.
func (r *PostgresRepository) GetMissionSet(ctx context.Context, id uuid.UUID) (*model.MissionSet, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, required_missions, redeem_secret, created_at
		 FROM mission_sets
		 WHERE id = $1`,
		id,
	)

	var ms model.MissionSet
	err := row.Scan(&ms.ID, &ms.Name, &ms.RequiredMissions, &ms.RedeemSecret, &ms.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMissionSetNotFound
		}
		return nil, fmt.Errorf("get mission set: %w", err)
	}

	return &ms, nil
}

// GetRewardOption возвращает вариант награды по идентификатору.
func (r *PostgresRepository) GetRewardOption(ctx context.Context, optionID int64) (*model.RewardOption, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, mission_set_id, name, total, issued FROM reward_options WHERE id = $1`,
		optionID,
	)

	var o model.RewardOption
	err := row.Scan(&o.ID, &o.MissionSetID, &o.Name, &o.Total, &o.Issued)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOptionNotFound
		}
		return nil, fmt.Errorf("get reward option: %w", err)
	}

	return &o, nil
}

// ListRewardOptions возвращает варианты наград набора миссий в порядке идентификаторов.
func (r *PostgresRepository) ListRewardOptions(ctx context.Context, missionSetID uuid.UUID) ([]model.RewardOption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, mission_set_id, name, total, issued
		 FROM reward_options
		 WHERE mission_set_id = $1
		 ORDER BY id`,
		missionSetID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reward options: %w", err)
	}
	defer rows.Close()

	var options []model.RewardOption
	for rows.Next() {
		var o model.RewardOption
		if err := rows.Scan(&o.ID, &o.MissionSetID, &o.Name, &o.Total, &o.Issued); err != nil {
			return nil, fmt.Errorf("scan reward option: %w", err)
		}
		options = append(options, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return options, nil
}

// FindUserReward возвращает запись о награде пользователя в наборе миссий
// или ErrRewardNotFound, если записи нет.
func (r *PostgresRepository) FindUserReward(ctx context.Context, userID int64, missionSetID uuid.UUID) (*model.UserReward, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT ur.id, ur.user_id, ur.mission_set_id, ur.option_id, ro.name, ur.status, ur.redeemed_at, ur.created_at
		 FROM user_rewards ur
		 JOIN reward_options ro ON ro.id = ur.option_id
		 WHERE ur.user_id = $1 AND ur.mission_set_id = $2`,
		userID, missionSetID,
	)

	reward, err := scanUserReward(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("find user reward: %w", err)
	}

	return reward, nil
}

func scanUserReward(row pgx.Row) (*model.UserReward, error) {
	var (
		reward model.UserReward
		status string
	)
	err := row.Scan(&reward.ID, &reward.UserID, &reward.MissionSetID, &reward.OptionID,
		&reward.OptionName, &status, &reward.RedeemedAt, &reward.CreatedAt)
	if err != nil {
		return nil, err
	}
	reward.Status = model.RewardStatus(status)
	return &reward, nil
}

// ClaimReward атомарно списывает одну единицу тиража варианта награды и создаёт
// запись о награде пользователя. Строка варианта блокируется FOR UPDATE, поэтому
// конкурирующие заявки на один вариант сериализуются; при исчерпании тиража
// возвращается ErrOutOfStock, при повторной заявке пользователя — ErrAlreadyClaimed.
// Любая ошибка откатывает транзакцию целиком: списание и запись неразделимы.
func (r *PostgresRepository) ClaimReward(ctx context.Context, userID int64, missionSetID uuid.UUID, optionID int64) (*model.UserReward, error) {
	var reward *model.UserReward

	err := r.withRetry(ctx, func() error {
		var err error
		reward, err = r.claimRewardTx(ctx, userID, missionSetID, optionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return reward, nil
}

func (r *PostgresRepository) claimRewardTx(ctx context.Context, userID int64, missionSetID uuid.UUID, optionID int64) (*model.UserReward, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Ожидание блокировки ограничено, чтобы заявка не висела бесконечно
	// под нагрузкой. SET LOCAL действует до конца транзакции.
	_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	// Блокируем строку варианта и перечитываем счётчики уже под блокировкой.
	var total, issued int
	var optionName string
	err = tx.QueryRow(ctx,
		`SELECT name, total, issued
		 FROM reward_options
		 WHERE id = $1 AND mission_set_id = $2
		 FOR UPDATE`,
		optionID, missionSetID,
	).Scan(&optionName, &total, &issued)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOptionNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.LockNotAvailable {
			return nil, fmt.Errorf("%w: option %d", ErrLockTimeout, optionID)
		}
		return nil, fmt.Errorf("lock reward option: %w", err)
	}

	if issued >= total {
		return nil, ErrOutOfStock
	}

	_, err = tx.Exec(ctx,
		`UPDATE reward_options SET issued = issued + 1 WHERE id = $1`,
		optionID,
	)
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	var reward model.UserReward
	err = tx.QueryRow(ctx,
		`INSERT INTO user_rewards (user_id, mission_set_id, option_id, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		userID, missionSetID, optionID, string(model.RewardStatusIssued),
	).Scan(&reward.ID, &reward.CreatedAt)
	if err != nil {
		// Уникальный индекс по (user_id, mission_set_id) — вторая линия защиты
		// от двойной заявки: откат вернёт и списанную единицу тиража.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("insert user reward: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	reward.UserID = userID
	reward.MissionSetID = missionSetID
	reward.OptionID = optionID
	reward.OptionName = optionName
	reward.Status = model.RewardStatusIssued

	return &reward, nil
}

// MarkRedeemed переводит награду пользователя из состояния ISSUED в REDEEMED.
// Для уже выданной награды возвращает ErrAlreadyRedeemed вместе с записью,
// содержащей исходное время выдачи; для аннулированной — ErrRewardCanceled.
func (r *PostgresRepository) MarkRedeemed(ctx context.Context, userID int64, missionSetID uuid.UUID, at time.Time) (*model.UserReward, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT ur.id, ur.user_id, ur.mission_set_id, ur.option_id, ro.name, ur.status, ur.redeemed_at, ur.created_at
		 FROM user_rewards ur
		 JOIN reward_options ro ON ro.id = ur.option_id
		 WHERE ur.user_id = $1 AND ur.mission_set_id = $2
		 FOR UPDATE OF ur`,
		userID, missionSetID,
	)

	reward, err := scanUserReward(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("lock user reward: %w", err)
	}

	switch reward.Status {
	case model.RewardStatusRedeemed:
		return reward, ErrAlreadyRedeemed
	case model.RewardStatusCanceled:
		return reward, ErrRewardCanceled
	}

	_, err = tx.Exec(ctx,
		`UPDATE user_rewards SET status = $2, redeemed_at = $3 WHERE id = $1`,
		reward.ID, string(model.RewardStatusRedeemed), at,
	)
	if err != nil {
		return nil, fmt.Errorf("update user reward: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	reward.Status = model.RewardStatusRedeemed
	reward.RedeemedAt = &at

	return reward, nil
}

// CancelReward аннулирует невыданную награду и возвращает единицу тиража в пул.
// Списание счётчика и смена статуса выполняются в одной транзакции.
func (r *PostgresRepository) CancelReward(ctx context.Context, rewardID int64) (*model.UserReward, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT ur.id, ur.user_id, ur.mission_set_id, ur.option_id, ro.name, ur.status, ur.redeemed_at, ur.created_at
		 FROM user_rewards ur
		 JOIN reward_options ro ON ro.id = ur.option_id
		 WHERE ur.id = $1
		 FOR UPDATE OF ur`,
		rewardID,
	)

	reward, err := scanUserReward(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("lock user reward: %w", err)
	}

	switch reward.Status {
	case model.RewardStatusRedeemed:
		return reward, ErrAlreadyRedeemed
	case model.RewardStatusCanceled:
		return reward, ErrRewardCanceled
	}

	_, err = tx.Exec(ctx,
		`UPDATE user_rewards SET status = $2 WHERE id = $1`,
		reward.ID, string(model.RewardStatusCanceled),
	)
	if err != nil {
		return nil, fmt.Errorf("update user reward: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE reward_options SET issued = issued - 1 WHERE id = $1 AND issued > 0`,
		reward.OptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("return stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	reward.Status = model.RewardStatusCanceled

	return reward, nil
}
