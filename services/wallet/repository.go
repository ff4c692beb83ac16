package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WalletRepository define as operações de persistência de carteiras e do extrato.
// Métodos que recebem tx aceitam nil para executar fora de transação.
type WalletRepository interface {
	// Gerenciamento de transação
	BeginTx(ctx context.Context) (Tx, error)

	GetWallet(ctx context.Context, walletID string) (*Wallet, error)

	// Lock pessimista
	GetWalletForUpdate(ctx context.Context, tx Tx, walletID string) (*Wallet, error)

	// CreateWalletIfNotExists retorna true quando a carteira foi criada agora
	CreateWalletIfNotExists(ctx context.Context, wallet *Wallet) (bool, error)
	UpdateWalletStatus(ctx context.Context, walletID string, status WalletStatus) error
	UpdateWalletBalance(ctx context.Context, tx Tx, walletID string, saldo Centavos) error

	// GetLedgerEntryByReference retorna nil quando a referência ainda não existe
	GetLedgerEntryByReference(ctx context.Context, tx Tx, referenciaTipo, referenciaID string) (*LedgerEntry, error)

	// InsertLedgerEntry retorna ErrDuplicateReference quando o índice único rejeita a referência
	InsertLedgerEntry(ctx context.Context, tx Tx, entry *LedgerEntry) error
	ListLedgerEntries(ctx context.Context, walletID string, limit, offset int) ([]LedgerEntry, error)
	SumLedger(ctx context.Context, walletID string) (Centavos, error)
}

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

// querier é o subconjunto comum entre *pgxpool.Pool e pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresWalletRepository implementa os repositórios da caixinha usando PostgreSQL
type PostgresWalletRepository struct {
	db *pgxpool.Pool
}

// NewWalletRepository cria uma nova instância de PostgresWalletRepository
func NewWalletRepository(db *pgxpool.Pool) *PostgresWalletRepository {
	return &PostgresWalletRepository{
		db: db,
	}
}

func (r *PostgresWalletRepository) q(tx Tx) querier {
	if tx == nil {
		return r.db
	}
	return tx.(*PostgresTx).tx
}

// BeginTx inicia uma nova transação
func (r *PostgresWalletRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &PostgresTx{tx: tx}, nil
}

const walletColumns = `id, owner_id, owner_tipo, saldo, status, created_at, updated_at`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.OwnerTipo, &w.Saldo, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetWallet busca a carteira sem lock
func (r *PostgresWalletRepository) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID))
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, err
}

// GetWalletForUpdate obtém a carteira com lock pessimista (FOR UPDATE)
func (r *PostgresWalletRepository) GetWalletForUpdate(ctx context.Context, tx Tx, walletID string) (*Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`

	w, err := scanWallet(r.q(tx).QueryRow(ctx, query, walletID))
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		return nil, fmt.Errorf("failed to get wallet with lock: %w", err)
	}
	return w, err
}

// CreateWalletIfNotExists provisiona a carteira; não altera uma carteira existente
func (r *PostgresWalletRepository) CreateWalletIfNotExists(ctx context.Context, wallet *Wallet) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO wallets (id, owner_id, owner_tipo, saldo, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, wallet.ID, wallet.OwnerID, wallet.OwnerTipo, wallet.Saldo, wallet.Status, wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create wallet: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateWalletStatus bloqueia ou desbloqueia a carteira
func (r *PostgresWalletRepository) UpdateWalletStatus(ctx context.Context, walletID string, status WalletStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE wallets
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, walletID)
	if err != nil {
		return fmt.Errorf("failed to update wallet status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// UpdateWalletBalance grava o novo saldo; deve ser chamado com a linha travada
func (r *PostgresWalletRepository) UpdateWalletBalance(ctx context.Context, tx Tx, walletID string, saldo Centavos) error {
	_, err := r.q(tx).Exec(ctx, `
		UPDATE wallets
		SET saldo = $1,
		    updated_at = NOW()
		WHERE id = $2
	`, saldo, walletID)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	return nil
}

const ledgerColumns = `id, wallet_id, tipo, valor, saldo_apos, descricao, referencia_tipo, referencia_id, transaction_id, created_at`

func scanLedgerEntry(row pgx.Row) (*LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(&e.ID, &e.WalletID, &e.Tipo, &e.Valor, &e.SaldoApos, &e.Descricao,
		&e.ReferenciaTipo, &e.ReferenciaID, &e.TransactionID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetLedgerEntryByReference verifica se a chave de idempotência já foi usada
func (r *PostgresWalletRepository) GetLedgerEntryByReference(ctx context.Context, tx Tx, referenciaTipo, referenciaID string) (*LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM wallet_ledger
		WHERE referencia_tipo = $1 AND referencia_id = $2
	`

	e, err := scanLedgerEntry(r.q(tx).QueryRow(ctx, query, referenciaTipo, referenciaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query ledger by reference: %w", err)
	}
	return e, nil
}

// InsertLedgerEntry adiciona um lançamento ao extrato (append-only)
func (r *PostgresWalletRepository) InsertLedgerEntry(ctx context.Context, tx Tx, entry *LedgerEntry) error {
	_, err := r.q(tx).Exec(ctx, `
		INSERT INTO wallet_ledger (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.WalletID, entry.Tipo, entry.Valor, entry.SaldoApos, entry.Descricao,
		entry.ReferenciaTipo, entry.ReferenciaID, entry.TransactionID, entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// ListLedgerEntries retorna o extrato mais recente primeiro
func (r *PostgresWalletRepository) ListLedgerEntries(ctx context.Context, walletID string, limit, offset int) ([]LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM wallet_ledger
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]LedgerEntry, 0, limit)
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// SumLedger soma todos os lançamentos da carteira
func (r *PostgresWalletRepository) SumLedger(ctx context.Context, walletID string) (Centavos, error) {
	var total Centavos
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(valor), 0)::BIGINT FROM wallet_ledger WHERE wallet_id = $1`, walletID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return total, nil
}

// isUniqueViolation detecta violação de índice único (23505)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
