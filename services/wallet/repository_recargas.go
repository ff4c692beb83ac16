package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RechargeRepository define as operações de persistência das recargas (wallet_recargas)
type RechargeRepository interface {
	GetRechargeByID(ctx context.Context, id string) (*RechargeRequest, error)

	// GetRechargeByPixID retorna nil quando nenhuma recarga tem o pix_id
	GetRechargeByPixID(ctx context.Context, pixID string) (*RechargeRequest, error)

	// FindPendingRecharges busca recargas PENDENTE da carteira com o mesmo valor
	FindPendingRecharges(ctx context.Context, walletID string, valor Centavos) ([]RechargeRequest, error)

	// RecordWebhook guarda o payload recebido e associa o pix_id (se ainda vazio)
	RecordWebhook(ctx context.Context, id, pixID string, payload json.RawMessage, recebidoEm time.Time) error

	// MarkRechargePaid só transiciona PENDENTE|ERRO -> PAGO; retorna false se nada mudou
	MarkRechargePaid(ctx context.Context, tx Tx, id, transactionID string, pagoEm time.Time) (bool, error)
	MarkRechargeError(ctx context.Context, id, mensagem string) error
	MarkRechargeCancelled(ctx context.Context, id string) (bool, error)

	// ListRechargesForRetry lista ERRO com tentativas restantes e PENDENTE antigos com pix_id
	ListRechargesForRetry(ctx context.Context, maxTentativas int, staleBefore time.Time, limit int) ([]RechargeRequest, error)
}

const rechargeColumns = `id, wallet_id, valor, pix_id, status, processado, tentativas, webhook_payload,
	webhook_recebido_em, pago_em, transaction_id, erro_mensagem, created_at, updated_at`

func scanRecharge(row pgx.Row) (*RechargeRequest, error) {
	var rc RechargeRequest
	var payload []byte
	err := row.Scan(&rc.ID, &rc.WalletID, &rc.Valor, &rc.PixID, &rc.Status, &rc.Processado, &rc.Tentativas,
		&payload, &rc.WebhookRecebidoEm, &rc.PagoEm, &rc.TransactionID, &rc.ErroMensagem, &rc.CreatedAt, &rc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		rc.WebhookPayload = json.RawMessage(payload)
	}
	return &rc, nil
}

func (r *PostgresWalletRepository) queryRecharges(ctx context.Context, query string, args ...any) ([]RechargeRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recharges []RechargeRequest
	for rows.Next() {
		rc, err := scanRecharge(rows)
		if err != nil {
			return nil, err
		}
		recharges = append(recharges, *rc)
	}
	return recharges, rows.Err()
}

// GetRechargeByID busca a recarga pelo ID
func (r *PostgresWalletRepository) GetRechargeByID(ctx context.Context, id string) (*RechargeRequest, error) {
	rc, err := scanRecharge(r.db.QueryRow(ctx, `SELECT `+rechargeColumns+` FROM wallet_recargas WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRechargeNotFound
		}
		return nil, fmt.Errorf("failed to get recharge: %w", err)
	}
	return rc, nil
}

// GetRechargeByPixID busca a recarga pelo ID do pagamento externo
func (r *PostgresWalletRepository) GetRechargeByPixID(ctx context.Context, pixID string) (*RechargeRequest, error) {
	rc, err := scanRecharge(r.db.QueryRow(ctx, `SELECT `+rechargeColumns+` FROM wallet_recargas WHERE pix_id = $1`, pixID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get recharge by pix_id: %w", err)
	}
	return rc, nil
}

// FindPendingRecharges busca candidatas ao casamento por (wallet_id, PENDENTE, valor)
func (r *PostgresWalletRepository) FindPendingRecharges(ctx context.Context, walletID string, valor Centavos) ([]RechargeRequest, error) {
	recharges, err := r.queryRecharges(ctx, `
		SELECT `+rechargeColumns+`
		FROM wallet_recargas
		WHERE wallet_id = $1 AND status = $2 AND valor = $3 AND pix_id IS NULL
		ORDER BY created_at DESC
		LIMIT 5
	`, walletID, RechargeStatusPendente, valor)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending recharges: %w", err)
	}
	return recharges, nil
}

// RecordWebhook guarda o payload para reprocessamento manual
func (r *PostgresWalletRepository) RecordWebhook(ctx context.Context, id, pixID string, payload json.RawMessage, recebidoEm time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE wallet_recargas
		SET pix_id = COALESCE(pix_id, $2),
		    webhook_payload = $3,
		    webhook_recebido_em = $4,
		    updated_at = NOW()
		WHERE id = $1 AND processado = false
	`, id, pixID, []byte(payload), recebidoEm)
	if err != nil {
		return fmt.Errorf("failed to record webhook: %w", err)
	}
	return nil
}

// MarkRechargePaid marca a recarga como PAGO (nunca volta de PAGO/CANCELADO)
func (r *PostgresWalletRepository) MarkRechargePaid(ctx context.Context, tx Tx, id, transactionID string, pagoEm time.Time) (bool, error) {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE wallet_recargas
		SET status = $2,
		    processado = true,
		    pago_em = $3,
		    transaction_id = $4,
		    erro_mensagem = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ($5, $6)
	`, id, RechargeStatusPago, pagoEm, transactionID, RechargeStatusPendente, RechargeStatusErro)
	if err != nil {
		return false, fmt.Errorf("failed to mark recharge paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRechargeError registra a falha e incrementa tentativas
func (r *PostgresWalletRepository) MarkRechargeError(ctx context.Context, id, mensagem string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE wallet_recargas
		SET status = $2,
		    tentativas = tentativas + 1,
		    erro_mensagem = $3,
		    updated_at = NOW()
		WHERE id = $1 AND processado = false AND status IN ($4, $2)
	`, id, RechargeStatusErro, mensagem, RechargeStatusPendente)
	if err != nil {
		return fmt.Errorf("failed to mark recharge error: %w", err)
	}
	return nil
}

// MarkRechargeCancelled cancela uma recarga ainda não creditada
func (r *PostgresWalletRepository) MarkRechargeCancelled(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE wallet_recargas
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1 AND processado = false AND status IN ($3, $4)
	`, id, RechargeStatusCancelado, RechargeStatusPendente, RechargeStatusErro)
	if err != nil {
		return false, fmt.Errorf("failed to cancel recharge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListRechargesForRetry seleciona recargas para o worker de reprocessamento
func (r *PostgresWalletRepository) ListRechargesForRetry(ctx context.Context, maxTentativas int, staleBefore time.Time, limit int) ([]RechargeRequest, error) {
	recharges, err := r.queryRecharges(ctx, `
		SELECT `+rechargeColumns+`
		FROM wallet_recargas
		WHERE processado = false
		  AND pix_id IS NOT NULL
		  AND (
		        (status = $1 AND tentativas < $2)
		     OR (status = $3 AND webhook_recebido_em < $4)
		  )
		ORDER BY updated_at
		LIMIT $5
	`, RechargeStatusErro, maxTentativas, RechargeStatusPendente, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recharges for retry: %w", err)
	}
	return recharges, nil
}
