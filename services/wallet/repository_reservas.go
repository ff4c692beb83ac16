package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ReservationRepository define as operações de persistência das reservas (wallet_reservas)
type ReservationRepository interface {
	// InsertReservation deve rodar na mesma transação do débito
	InsertReservation(ctx context.Context, tx Tx, reservation *Reservation) error
	GetReservation(ctx context.Context, id string) (*Reservation, error)
}

// FeatureFlagRepository lê as opções de ativação da caixinha
type FeatureFlagRepository interface {
	// GetFeatureFlags retorna a linha da loja (user_id vazio) e a do usuário, quando existirem
	GetFeatureFlags(ctx context.Context, slug, userID string) ([]FeatureFlag, error)
}

// InsertReservation grava a reserva criada pelo débito
func (r *PostgresWalletRepository) InsertReservation(ctx context.Context, tx Tx, reservation *Reservation) error {
	var metadata []byte
	if reservation.Metadata != nil {
		var err error
		metadata, err = json.Marshal(reservation.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode reservation metadata: %w", err)
		}
	}

	_, err := r.q(tx).Exec(ctx, `
		INSERT INTO wallet_reservas (id, wallet_id, produto_id, variacao_id, quantidade, preco_unitario,
			preco_total, transaction_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, reservation.ID, reservation.WalletID, reservation.ProdutoID, reservation.VariacaoID, reservation.Quantidade,
		reservation.PrecoUnitario, reservation.PrecoTotal, reservation.TransactionID, metadata, reservation.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

// GetReservation busca a reserva pelo ID
func (r *PostgresWalletRepository) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	var res Reservation
	var metadata []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, wallet_id, produto_id, variacao_id, quantidade, preco_unitario, preco_total,
			transaction_id, metadata, created_at
		FROM wallet_reservas
		WHERE id = $1
	`, id).Scan(&res.ID, &res.WalletID, &res.ProdutoID, &res.VariacaoID, &res.Quantidade, &res.PrecoUnitario,
		&res.PrecoTotal, &res.TransactionID, &metadata, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &res.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode reservation metadata: %w", err)
		}
	}
	return &res, nil
}

// GetFeatureFlags busca as linhas de ativação da loja e do usuário
func (r *PostgresWalletRepository) GetFeatureFlags(ctx context.Context, slug, userID string) ([]FeatureFlag, error) {
	rows, err := r.db.Query(ctx, `
		SELECT slug, user_id, enabled
		FROM wallet_feature_flags
		WHERE slug = $1 AND user_id IN ('', $2)
	`, slug, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature flags: %w", err)
	}
	defer rows.Close()

	var flags []FeatureFlag
	for rows.Next() {
		var f FeatureFlag
		if err := rows.Scan(&f.Slug, &f.UserID, &f.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan feature flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
