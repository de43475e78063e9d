package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/photo-credits/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const orderColumns = `order_ref, amount::text, currency, status, COALESCE(payment_ref, ''), COALESCE(signature, ''),
	email, COALESCE(package_id, ''), quota_limit, quota_consumed, uploads, attempts, created_at, updated_at`

// PostgresRepository предоставляет доступ к заказам в PostgreSQL.
//
// Все изменения заказа выполняются одним условным UPDATE: если ожидаемое состояние
// уже изменилось, метод возвращает false и строка остаётся нетронутой.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт пул соединений и применяет миграции схемы.
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
	delays := []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 400 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isTransient(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет новый заказ. Повторный идентификатор отвергается с ErrOrderExists.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO orders (order_ref, amount, currency, status, email, package_id, quota_limit,
			                     quota_consumed, created_at, updated_at)
			 VALUES ($1, $2::numeric, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`,
			o.Ref, o.Amount.String(), o.Currency, string(o.Status), o.Email, o.PackageID,
			o.QuotaLimit, o.QuotaConsumed, o.CreatedAt, o.UpdatedAt,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrOrderExists, o.Ref)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, ref string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_ref = $1`,
		ref,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListOrdersByEmail возвращает заказы покупателя, начиная с самых новых.
func (r *PostgresRepository) ListOrdersByEmail(ctx context.Context, email string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE email = $1
		 ORDER BY created_at DESC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// SaveAttempt записывает ожидающую попытку оплаты и переводит заказ в статус attempted.
func (r *PostgresRepository) SaveAttempt(ctx context.Context, u AttemptUpdate) (bool, error) {
	var affected int64
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders
			 SET status = $2, payment_ref = $3, signature = $4, updated_at = $5
			 WHERE order_ref = $1 AND status = $6 AND COALESCE(payment_ref, '') = $7`,
			u.Ref, string(model.OrderStatusAttempted), u.PaymentRef, u.Signature, u.At,
			string(u.FromStatus), u.FromPaymentRef,
		)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("update attempt: %w", err)
	}
	return affected == 1, nil
}

// FinalizeAttempt переводит заказ из attempted в paid или failed и дописывает историю попыток.
func (r *PostgresRepository) FinalizeAttempt(ctx context.Context, u FinalizeUpdate) (bool, error) {
	attempt, err := json.Marshal([]model.Attempt{{
		PaymentRef:  u.PaymentRef,
		Outcome:     u.Outcome,
		FinalizedAt: u.At,
	}})
	if err != nil {
		return false, fmt.Errorf("marshal attempt: %w", err)
	}

	var affected int64
	err = r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders
			 SET status = $2, attempts = attempts || $3::jsonb, updated_at = $4
			 WHERE order_ref = $1 AND status = $5 AND payment_ref = $6`,
			u.Ref, string(u.Outcome), string(attempt), u.At,
			string(model.OrderStatusAttempted), u.PaymentRef,
		)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("finalize attempt: %w", err)
	}
	return affected == 1, nil
}

// ConsumeQuota списывает len(u.Uploads) единиц квоты и дописывает записи о загрузках.
func (r *PostgresRepository) ConsumeQuota(ctx context.Context, u ConsumeUpdate) (bool, error) {
	uploads, err := json.Marshal(u.Uploads)
	if err != nil {
		return false, fmt.Errorf("marshal uploads: %w", err)
	}

	var affected int64
	err = r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders
			 SET quota_consumed = quota_consumed + $2, uploads = uploads || $3::jsonb, updated_at = $4
			 WHERE order_ref = $1
			   AND status = $5
			   AND quota_consumed = $6
			   AND quota_consumed + $2 <= quota_limit`,
			u.Ref, len(u.Uploads), string(uploads), u.At,
			string(model.OrderStatusPaid), u.ExpectedConsumed,
		)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("consume quota: %w", err)
	}
	return affected == 1, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o        model.Order
		amount   string
		status   string
		uploads  []byte
		attempts []byte
	)
	err := row.Scan(&o.Ref, &amount, &o.Currency, &status, &o.PaymentRef, &o.Signature,
		&o.Email, &o.PackageID, &o.QuotaLimit, &o.QuotaConsumed, &uploads, &attempts,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}

	var ok bool
	o.Status, ok = model.ParseOrderStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown order status %q", status)
	}

	if err := json.Unmarshal(uploads, &o.Uploads); err != nil {
		return nil, fmt.Errorf("decode uploads: %w", err)
	}
	if err := json.Unmarshal(attempts, &o.Attempts); err != nil {
		return nil, fmt.Errorf("decode attempts: %w", err)
	}

	return &o, nil
}
