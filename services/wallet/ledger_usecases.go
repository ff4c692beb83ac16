package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MutationRequest descreve uma alteração de saldo.
// ReferenciaTipo + ReferenciaID formam a chave de idempotência.
type MutationRequest struct {
	WalletID       string
	Delta          Centavos
	Tipo           LedgerTipo
	Descricao      string
	ReferenciaTipo string
	ReferenciaID   string

	// OnApplied roda dentro da mesma transação, apenas na primeira aplicação
	OnApplied func(ctx context.Context, tx Tx, result *MutationResult) error
}

// MutationResult é o resultado (original ou reaproveitado) de uma mutação
type MutationResult struct {
	NovoSaldo     Centavos `json:"novo_saldo"`
	TransactionID string   `json:"transaction_id"`
	Replayed      bool     `json:"replayed"`
}

// LedgerUseCase é o único ponto por onde o saldo de uma carteira muda
type LedgerUseCase struct {
	repository      WalletRepository
	mutationCounter metric.Int64Counter
	replayCounter   metric.Int64Counter
}

// NewLedgerUseCase cria uma nova instância de LedgerUseCase
func NewLedgerUseCase(repository WalletRepository) *LedgerUseCase {
	meter := otel.Meter("wallet-service")
	mutationCounter, _ := meter.Int64Counter("wallet_mutations_total",
		metric.WithDescription("Mutações de saldo por tipo e resultado"))
	replayCounter, _ := meter.Int64Counter("wallet_mutation_replays_total",
		metric.WithDescription("Mutações respondidas por replay idempotente"))

	return &LedgerUseCase{
		repository:      repository,
		mutationCounter: mutationCounter,
		replayCounter:   replayCounter,
	}
}

// Mutate aplica delta ao saldo com lock pessimista, checagem de piso e lançamento no extrato,
// tudo em uma única transação. Uma referência já registrada devolve o resultado original.
func (uc *LedgerUseCase) Mutate(ctx context.Context, req MutationRequest) (*MutationResult, error) {
	if req.WalletID == "" || req.ReferenciaTipo == "" || req.ReferenciaID == "" {
		return nil, invalidInput("wallet_id e referência são obrigatórios")
	}

	ctx, span := StartLedgerSpan(ctx, "mutate", req)
	defer span.End()

	result, err := uc.mutate(ctx, req)
	if errors.Is(err, ErrDuplicateReference) {
		// Outra transação gravou a mesma referência entre a checagem e o INSERT
		result, err = uc.replayFromLedger(ctx, req)
	}

	outcome := "ok"
	switch {
	case err != nil:
		outcome = errorCode(err)
		span.RecordError(err)
	case result.Replayed:
		outcome = "replay"
		uc.count(ctx, uc.replayCounter, req)
	}
	span.SetAttributes(attribute.String("wallet.mutation.resultado", outcome))
	if uc.mutationCounter != nil {
		uc.mutationCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tipo", string(req.Tipo)),
			attribute.String("resultado", outcome),
		))
	}

	return result, err
}

func (uc *LedgerUseCase) mutate(ctx context.Context, req MutationRequest) (*MutationResult, error) {
	// 1. Inicia a transação
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	// 2. Obtém a carteira com LOCK PESSIMISTA (SELECT FOR UPDATE)
	wallet, err := uc.repository.GetWalletForUpdate(ctx, tx, req.WalletID)
	if err != nil {
		log.Printf("❌ [MUTATE] GetWalletForUpdate | WalletID=%s | Ref=%s:%s | Error=%v",
			req.WalletID, req.ReferenciaTipo, req.ReferenciaID, err)
		return nil, err
	}

	// 3. Verifica idempotência dentro da transação
	existing, err := uc.repository.GetLedgerEntryByReference(ctx, tx, req.ReferenciaTipo, req.ReferenciaID)
	if err != nil {
		return nil, fmt.Errorf("erro ao verificar idempotência: %w", err)
	}
	if existing != nil {
		return replayResult(existing, req)
	}

	// 4. Regras de negócio: carteira ativa e saldo nunca negativo
	if wallet.IsBlocked() {
		log.Printf("❌ [MUTATE] Wallet blocked | WalletID=%s", req.WalletID)
		return nil, ErrWalletBlocked
	}

	novoSaldo := wallet.Saldo + req.Delta
	if req.Delta > 0 && novoSaldo < wallet.Saldo {
		return nil, invalidInput("crédito excede o saldo máximo suportado")
	}
	if novoSaldo < 0 {
		log.Printf("❌ [MUTATE] Insufficient balance | WalletID=%s | saldo=%s | delta=%s",
			req.WalletID, wallet.Saldo, req.Delta)
		return nil, &InsufficientBalanceError{Saldo: wallet.Saldo, Shortfall: -novoSaldo}
	}

	// 5. Atualiza o saldo e registra o lançamento
	entry := NewLedgerEntry(req.WalletID, req.Tipo, req.Delta, novoSaldo, req.Descricao, req.ReferenciaTipo, req.ReferenciaID)
	if err := uc.repository.UpdateWalletBalance(ctx, tx, req.WalletID, novoSaldo); err != nil {
		return nil, err
	}
	if err := uc.repository.InsertLedgerEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	result := &MutationResult{NovoSaldo: novoSaldo, TransactionID: entry.TransactionID}

	if req.OnApplied != nil {
		if err := req.OnApplied(ctx, tx, result); err != nil {
			return nil, fmt.Errorf("erro ao gravar efeito da mutação: %w", err)
		}
	}

	// 6. Commit da transação
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("erro ao comitar mutação: %w", err)
	}

	log.Printf("✅ [MUTATE] %s %s | WalletID=%s | NovoSaldo=%s | Ref=%s:%s | TxID=%s",
		req.Tipo, req.Delta, req.WalletID, novoSaldo, req.ReferenciaTipo, req.ReferenciaID, entry.TransactionID)
	return result, nil
}

// replayFromLedger busca o lançamento gravado pela transação concorrente
func (uc *LedgerUseCase) replayFromLedger(ctx context.Context, req MutationRequest) (*MutationResult, error) {
	existing, err := uc.repository.GetLedgerEntryByReference(ctx, nil, req.ReferenciaTipo, req.ReferenciaID)
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar lançamento concorrente: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("lançamento %s:%s não encontrado após violação de unicidade", req.ReferenciaTipo, req.ReferenciaID)
	}
	return replayResult(existing, req)
}

func replayResult(existing *LedgerEntry, req MutationRequest) (*MutationResult, error) {
	if existing.WalletID != req.WalletID {
		log.Printf("❌ [IDEMPOTENCY] Ref=%s:%s belongs to WalletID=%s, not %s",
			req.ReferenciaTipo, req.ReferenciaID, existing.WalletID, req.WalletID)
		return nil, ErrReferenceConflict
	}

	log.Printf("ℹ️ [IDEMPOTENCY] Mutação já aplicada | Ref=%s:%s | TxID=%s",
		req.ReferenciaTipo, req.ReferenciaID, existing.TransactionID)
	return &MutationResult{
		NovoSaldo:     existing.SaldoApos,
		TransactionID: existing.TransactionID,
		Replayed:      true,
	}, nil
}

func (uc *LedgerUseCase) count(ctx context.Context, counter metric.Int64Counter, req MutationRequest) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("tipo", string(req.Tipo))))
}

// EnsureWallet provisiona a carteira se ainda não existir
func (uc *LedgerUseCase) EnsureWallet(ctx context.Context, walletID, ownerID string, ownerTipo OwnerTipo) (*Wallet, error) {
	if walletID == "" || ownerID == "" {
		return nil, invalidInput("wallet_id e owner_id são obrigatórios")
	}
	if ownerTipo != OwnerTipoRevendedor && ownerTipo != OwnerTipoCliente {
		return nil, invalidInput("owner_tipo inválido: %q", ownerTipo)
	}

	created, err := uc.repository.CreateWalletIfNotExists(ctx, NewWallet(walletID, ownerID, ownerTipo))
	if err != nil {
		return nil, err
	}
	if created {
		log.Printf("✅ [WALLET] Carteira criada | WalletID=%s | Owner=%s:%s", walletID, ownerTipo, ownerID)
	}

	return uc.repository.GetWallet(ctx, walletID)
}

// GetWallet retorna a carteira com o saldo atual
func (uc *LedgerUseCase) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	return uc.repository.GetWallet(ctx, walletID)
}

// SetWalletStatus bloqueia ou desbloqueia a carteira
func (uc *LedgerUseCase) SetWalletStatus(ctx context.Context, walletID string, status WalletStatus) error {
	if status != WalletStatusAtivo && status != WalletStatusBloqueado {
		return invalidInput("status inválido: %q", status)
	}
	if err := uc.repository.UpdateWalletStatus(ctx, walletID, status); err != nil {
		return err
	}
	log.Printf("ℹ️ [WALLET] Status alterado | WalletID=%s | Status=%s", walletID, status)
	return nil
}

// ListEntries retorna o extrato paginado
func (uc *LedgerUseCase) ListEntries(ctx context.Context, walletID string, limit, offset int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return uc.repository.ListLedgerEntries(ctx, walletID, limit, offset)
}

// CheckConsistency compara o saldo com a soma do extrato
func (uc *LedgerUseCase) CheckConsistency(ctx context.Context, walletID string) (bool, error) {
	wallet, err := uc.repository.GetWallet(ctx, walletID)
	if err != nil {
		return false, err
	}
	soma, err := uc.repository.SumLedger(ctx, walletID)
	if err != nil {
		return false, err
	}
	if soma != wallet.Saldo {
		log.Printf("🚨 [CONSISTENCY] WalletID=%s | saldo=%s | soma_extrato=%s", walletID, wallet.Saldo, soma)
		return false, nil
	}
	return true, nil
}

// errorCode devolve o código do WalletError para métricas e respostas
func errorCode(err error) string {
	var walletErr *WalletError
	if errors.As(err, &walletErr) {
		return walletErr.Code
	}
	return "internal_error"
}
