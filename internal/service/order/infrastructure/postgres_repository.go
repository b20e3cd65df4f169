package infrastructure

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fooddelivery/internal/pkg/bootstrap"
	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/service/order/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

//go:embed migrations/postgres.sql
var postgresSchema string

const orderColumns = `id, display_id, user_id, customer_chat_id, status, payment_status, total_amount::text, created_at, updated_at`

// PostgresDSN 根据配置生成连接串；配置了 dsn 时直接使用。
func PostgresDSN(cfg bootstrap.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
}

// NewPgxPool 创建 PostgreSQL 连接池，并按需执行建表脚本。
func NewPgxPool(ctx context.Context, cfg bootstrap.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(PostgresDSN(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	if cfg.AutoMigrate {
		if _, err := pool.Exec(ctx, postgresSchema); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "apply postgres schema")
		}
		logger.L().Info().Msg("✅ PostgreSQL schema applied.")
	}
	return pool, nil
}

// PgxConn 是仓储用到的连接池能力，*pgxpool.Pool 满足它
type PgxConn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PgxOrderRepository 是基于 pgx 的 PostgreSQL 实现，接口与 GormOrderRepository 一致
type PgxOrderRepository struct {
	pool PgxConn
}

func NewPgxOrderRepository(pool PgxConn) *PgxOrderRepository {
	return &PgxOrderRepository{pool: pool}
}

func (r *PgxOrderRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "find order %d", id)
	}
	return order, nil
}

func (r *PgxOrderRepository) FindExpiredUnpaid(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_status = $1
		  AND status <> ALL($2)
		  AND created_at <= $3
		  AND id > $4
		ORDER BY id ASC
		LIMIT $5`,
		string(domain.PaymentPending), terminalStatuses, cutoff, afterID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "find expired unpaid orders")
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		orders = append(orders, order)
	}
	return orders, errors.Wrap(rows.Err(), "iterate expired unpaid orders")
}

func (r *PgxOrderRepository) ListByOrder(ctx context.Context, orderID int64, filter domain.HistoryFilter) ([]*domain.StatusHistoryRecord, error) {
	conds := []string{"order_id = $1"}
	args := []any{orderID}
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		conds = append(conds, fmt.Sprintf("actor_role = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, status, previous_status, actor_role, actor_user_id, actor_bot_user_id, comment, metadata, created_at
		FROM order_status_history
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "list status history of order %d", orderID)
	}
	defer rows.Close()

	var records []*domain.StatusHistoryRecord
	for rows.Next() {
		var (
			rec      domain.StatusHistoryRecord
			status   string
			previous string
			role     string
			metadata []byte
		)
		if err := rows.Scan(&rec.ID, &rec.OrderID, &status, &previous, &role,
			&rec.ActorUserID, &rec.ActorBotUserID, &rec.Comment, &metadata, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan status history")
		}
		rec.Status = domain.Status(status)
		rec.PreviousStatus = domain.Status(previous)
		rec.ActorRole = domain.Role(role)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, errors.Wrapf(err, "decode metadata of history %d", rec.ID)
			}
		}
		records = append(records, &rec)
	}
	return records, errors.Wrap(rows.Err(), "iterate status history")
}

// WithinTransaction 在 READ COMMITTED 事务中执行 fn，fn 出错或 panic 时回滚
func (r *PgxOrderRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, w domain.StatusWriter) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	committing := false
	defer func() {
		if committing {
			return
		}
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.Ctx(ctx).Warn().Err(err).Msg("Failed to roll back transaction")
		}
	}()

	if err := fn(ctx, &pgxStatusWriter{tx: tx}); err != nil {
		return err
	}
	committing = true
	return errors.Wrap(tx.Commit(ctx), "commit transaction")
}

func (r *PgxOrderRepository) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, "scan setting")
		}
		out[k] = v
	}
	return out, errors.Wrap(rows.Err(), "iterate settings")
}

type pgxStatusWriter struct {
	tx pgx.Tx
}

func (w *pgxStatusWriter) CompareAndSetStatus(ctx context.Context, orderID int64, expected, next domain.Status, at time.Time) (bool, error) {
	tag, err := w.tx.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(next), at, orderID, string(expected))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (w *pgxStatusWriter) CurrentStatus(ctx context.Context, orderID int64) (domain.Status, error) {
	var status string
	err := w.tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrOrderNotFound
	}
	return domain.Status(status), err
}

func (w *pgxStatusWriter) AppendHistory(ctx context.Context, rec *domain.StatusHistoryRecord) error {
	var metadata []byte
	if rec.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return errors.Wrap(err, "encode history metadata")
		}
	}
	return w.tx.QueryRow(ctx, `
		INSERT INTO order_status_history
			(order_id, status, previous_status, actor_role, actor_user_id, actor_bot_user_id, comment, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		rec.OrderID, string(rec.Status), string(rec.PreviousStatus), string(rec.ActorRole),
		rec.ActorUserID, rec.ActorBotUserID, rec.Comment, metadata, rec.CreatedAt,
	).Scan(&rec.ID)
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o       domain.Order
		status  string
		payment string
		amount  string
	)
	if err := row.Scan(&o.ID, &o.DisplayID, &o.UserID, &o.CustomerChatID, &status, &payment, &amount, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrapf(err, "parse total amount of order %d", o.ID)
	}
	o.Status = domain.Status(status)
	o.PaymentStatus = domain.PaymentStatus(payment)
	o.TotalAmount = total
	return &o, nil
}
