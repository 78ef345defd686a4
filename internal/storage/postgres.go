package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/matrixise/portfolio-tracker/internal/chain"
)

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

// Store manages PostgreSQL operations
type Store struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Store)(nil)

// NewStore creates a new PostgreSQL store with connection pooling
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	// Parse and configure connection pool
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Tune connection pool
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	// NUMERIC <-> decimal.Decimal
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isWalletID reports whether id can match a uuid column. Anything else
// cannot name a stored wallet.
func isWalletID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// isInvalidText catches uuid spellings Postgres rejects but uuid.Parse accepts.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

const walletColumns = `id::text, address, chain, label, created_at, updated_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	var c string
	if err := row.Scan(&w.ID, &w.Address, &c, &w.Label, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	w.Chain = chain.Chain(c)
	return w, nil
}

// CreateWallet inserts w. The caller assigns the id.
func (s *Store) CreateWallet(ctx context.Context, w Wallet) (Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO wallets (id, address, chain, label)
		VALUES ($1::uuid, $2, $3, $4)
		RETURNING `+walletColumns,
		w.ID, w.Address, string(w.Chain), w.Label,
	)
	created, err := scanWallet(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Wallet{}, ErrWalletExists
		}
		return Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	return created, nil
}

// GetWallet returns ErrNotFound for unknown ids, including malformed ones.
func (s *Store) GetWallet(ctx context.Context, id string) (Wallet, error) {
	if !isWalletID(id) {
		return Wallet{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1::uuid`, id)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// ListWallets returns all wallets, oldest first.
func (s *Store) ListWallets(ctx context.Context) ([]Wallet, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWalletLabel(ctx context.Context, id string, label *string) (Wallet, error) {
	if !isWalletID(id) {
		return Wallet{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE wallets SET label = $2, updated_at = now()
		WHERE id = $1::uuid
		RETURNING `+walletColumns,
		id, label,
	)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("update wallet: %w", err)
	}
	return w, nil
}

// DeleteWallet removes the wallet; snapshots and history cascade.
func (s *Store) DeleteWallet(ctx context.Context, id string) error {
	if !isWalletID(id) {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM wallets WHERE id = $1::uuid`, id)
	if isInvalidText(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const snapshotColumns = `wallet_id::text, token_symbol, token_address, balance, usd_value, last_updated`

func (s *Store) CurrentBalances(ctx context.Context, walletID string) ([]Snapshot, error) {
	if !isWalletID(walletID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM balance_snapshots
		WHERE wallet_id = $1::uuid
		ORDER BY token_symbol, token_address NULLS FIRST`,
		walletID,
	)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var sn Snapshot
		if err := rows.Scan(&sn.WalletID, &sn.TokenSymbol, &sn.TokenAddress, &sn.Balance, &sn.USDValue, &sn.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// SaveSync upserts every snapshot, appends history and drops tokens the
// fetch no longer reported, all in one transaction using pgx.Batch.
func (s *Store) SaveSync(ctx context.Context, walletID string, snaps []Snapshot, fetchedAt time.Time) error {
	return s.withTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}

		for _, sn := range snaps {
			batch.Queue(`
				INSERT INTO balance_snapshots
				(wallet_id, token_symbol, token_address, balance, usd_value, last_updated)
				VALUES ($1::uuid, $2, $3, $4, $5, $6)
				ON CONFLICT (wallet_id, token_symbol, (COALESCE(token_address, '')))
				DO UPDATE SET
					balance = EXCLUDED.balance,
					usd_value = EXCLUDED.usd_value,
					last_updated = EXCLUDED.last_updated`,
				walletID, sn.TokenSymbol, sn.TokenAddress, sn.Balance, sn.USDValue, fetchedAt,
			)
			batch.Queue(`
				INSERT INTO balance_history
				(wallet_id, token_symbol, token_address, balance, usd_value, recorded_at)
				VALUES ($1::uuid, $2, $3, $4, $5, $6)`,
				walletID, sn.TokenSymbol, sn.TokenAddress, sn.Balance, sn.USDValue, fetchedAt,
			)
		}
		batch.Queue(`DELETE FROM balance_snapshots WHERE wallet_id = $1::uuid AND last_updated < $2`,
			walletID, fetchedAt)

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("batch save failed: %w", err)
			}
		}
		return br.Close()
	})
}

// PortfolioSnapshot reads wallets and balances with one statement, which
// Postgres evaluates against a single snapshot.
func (s *Store) PortfolioSnapshot(ctx context.Context) ([]WalletBalances, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.id::text, w.address, w.chain, w.label, w.created_at, w.updated_at,
		       b.token_symbol, b.token_address, b.balance, b.usd_value, b.last_updated
		FROM wallets w
		LEFT JOIN balance_snapshots b ON b.wallet_id = w.id
		ORDER BY w.created_at, w.id, b.token_symbol, b.token_address NULLS FIRST`)
	if err != nil {
		return nil, fmt.Errorf("query portfolio: %w", err)
	}
	defer rows.Close()

	var out []WalletBalances
	for rows.Next() {
		var (
			w           Wallet
			c           string
			symbol      *string
			tokenAddr   *string
			balance     decimal.NullDecimal
			usd         decimal.NullDecimal
			lastUpdated *time.Time
		)
		if err := rows.Scan(&w.ID, &w.Address, &c, &w.Label, &w.CreatedAt, &w.UpdatedAt,
			&symbol, &tokenAddr, &balance, &usd, &lastUpdated); err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		w.Chain = chain.Chain(c)

		if len(out) == 0 || out[len(out)-1].Wallet.ID != w.ID {
			out = append(out, WalletBalances{Wallet: w})
		}
		if symbol == nil {
			continue
		}
		cur := &out[len(out)-1]
		cur.Balances = append(cur.Balances, Snapshot{
			WalletID:     w.ID,
			TokenSymbol:  *symbol,
			TokenAddress: tokenAddr,
			Balance:      balance.Decimal,
			USDValue:     usd,
			LastUpdated:  *lastUpdated,
		})
	}
	return out, rows.Err()
}

// History returns records newest first.
func (s *Store) History(ctx context.Context, f HistoryFilter) ([]HistoryRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.WalletID != "" {
		if !isWalletID(f.WalletID) {
			return nil, nil
		}
		args = append(args, f.WalletID)
		where = append(where, fmt.Sprintf("wallet_id = $%d::uuid", len(args)))
	}
	if f.TokenSymbol != "" {
		args = append(args, f.TokenSymbol)
		where = append(where, fmt.Sprintf("token_symbol = $%d", len(args)))
	}

	query := `SELECT id, wallet_id::text, token_symbol, token_address, balance, usd_value, recorded_at
		FROM balance_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var h HistoryRecord
		if err := rows.Scan(&h.ID, &h.WalletID, &h.TokenSymbol, &h.TokenAddress, &h.Balance, &h.USDValue, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
