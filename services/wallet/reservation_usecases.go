package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)


var reservationNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("c4wallet.reservas"))

// ReserveRequest é o pedido de reserva de uma peça com saldo da caixinha
type ReserveRequest struct {
	WalletID       string
	Slug           string
	UserID         string
	ProdutoID      string
	VariacaoID     *string
	Quantidade     int
	PrecoUnitario  Centavos
	Metadata       map[string]any
	IdempotencyKey string
}

// ReserveResult é o resultado (original ou reaproveitado) de uma reserva
type ReserveResult struct {
	ReservaID     string   `json:"reserva_id"`
	NovoSaldo     Centavos `json:"novo_saldo"`
	PrecoTotal    Centavos `json:"preco_total"`
	TransactionID string   `json:"transaction_id"`
	Replayed      bool     `json:"replayed"`
}

// ReservationUseCase debita a caixinha e grava a reserva na mesma transação
type ReservationUseCase struct {
	ledger       *LedgerUseCase
	reservations ReservationRepository
	gate         *FeatureGate
	events       EventPublisher
	dedupWindow  time.Duration
	now          func() time.Time
}

// NewReservationUseCase cria uma nova instância de ReservationUseCase
func NewReservationUseCase(ledger *LedgerUseCase, reservations ReservationRepository, gate *FeatureGate, events EventPublisher, dedupWindow time.Duration) *ReservationUseCase {
	if events == nil {
		events = NoopEventPublisher{}
	}
	return &ReservationUseCase{
		ledger:       ledger,
		reservations: reservations,
		gate:         gate,
		events:       events,
		dedupWindow:  dedupWindow,
		now:          time.Now,
	}
}

// Reserve executa a reserva: feature ativa, carteira ativa, débito idempotente e gravação da reserva
func (uc *ReservationUseCase) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	if req.WalletID == "" || req.ProdutoID == "" {
		return nil, invalidInput("wallet_id e produto_id são obrigatórios")
	}
	if req.Quantidade < 1 {
		return nil, invalidInput("quantidade deve ser maior que zero")
	}
	if req.PrecoUnitario < 0 {
		return nil, invalidInput("preco_unitario não pode ser negativo")
	}
	total, ok := MulQuantidade(req.PrecoUnitario, req.Quantidade)
	if !ok {
		return nil, invalidInput("preço total excede o limite suportado")
	}

	ctx, span := StartReservationSpan(ctx, req.WalletID, req.ProdutoID)
	defer span.End()

	// 1. Feature ativa para a loja/usuário
	// sem slug da loja no token não há opção a consultar: fecha
	if req.Slug == "" || !uc.gate.IsEnabled(ctx, req.Slug, req.UserID) {
		log.Printf("⚠️ [RESERVA] Caixinha desativada | Slug=%q | UserID=%s", req.Slug, req.UserID)
		return nil, ErrFeatureDisabled
	}

	// 2. Carteira existe e está ativa antes de qualquer débito
	wallet, err := uc.ledger.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet.IsBlocked() {
		return nil, ErrWalletBlocked
	}

	// 3. ID da reserva definido antes do débito: é a chave de idempotência
	createdAt := uc.now()
	reservaID := uc.reservationID(req, createdAt)
	span.SetAttributes(attribute.String("reserva.id", reservaID))

	reservation := &Reservation{
		ID:            reservaID,
		WalletID:      req.WalletID,
		ProdutoID:     req.ProdutoID,
		VariacaoID:    req.VariacaoID,
		Quantidade:    req.Quantidade,
		PrecoUnitario: req.PrecoUnitario,
		PrecoTotal:    total,
		Metadata:      req.Metadata,
		CreatedAt:     createdAt,
	}

	// 4. Débito + reserva na mesma transação
	mutation, err := uc.ledger.Mutate(ctx, MutationRequest{
		WalletID:       req.WalletID,
		Delta:          -total,
		Tipo:           LedgerTipoDebitoReserva,
		Descricao:      fmt.Sprintf("Reserva %s x%d", req.ProdutoID, req.Quantidade),
		ReferenciaTipo: ReferenciaReserva,
		ReferenciaID:   reservaID,
		OnApplied: func(ctx context.Context, tx Tx, applied *MutationResult) error {
			reservation.TransactionID = applied.TransactionID
			return uc.reservations.InsertReservation(ctx, tx, reservation)
		},
	})
	if err != nil {
		var insufficient *InsufficientBalanceError
		if errors.As(err, &insufficient) {
			log.Printf("⚠️ [RESERVA] Saldo insuficiente | WalletID=%s | Total=%s | Faltam=%s",
				req.WalletID, total, insufficient.Shortfall)
		} else {
			span.RecordError(err)
			log.Printf("❌ [RESERVA] Falha ao reservar | WalletID=%s | ReservaID=%s | Error=%v", req.WalletID, reservaID, err)
		}
		return nil, err
	}

	result := &ReserveResult{
		ReservaID:     reservaID,
		NovoSaldo:     mutation.NovoSaldo,
		PrecoTotal:    total,
		TransactionID: mutation.TransactionID,
		Replayed:      mutation.Replayed,
	}

	if mutation.Replayed {
		if existing, err := uc.reservations.GetReservation(ctx, reservaID); err == nil && existing != nil {
			result.PrecoTotal = existing.PrecoTotal
		}
		log.Printf("ℹ️ [RESERVA] Reserva já realizada | ReservaID=%s | TxID=%s", reservaID, mutation.TransactionID)
		return result, nil
	}

	log.Printf("✅ [RESERVA] Reserva criada | ReservaID=%s | WalletID=%s | Total=%s | NovoSaldo=%s",
		reservaID, req.WalletID, total, mutation.NovoSaldo)

	uc.events.Publish(ctx, WalletEvent{
		Type:          EventReservaCriada,
		WalletID:      req.WalletID,
		ReferenciaID:  reservaID,
		Valor:         -total,
		NovoSaldo:     mutation.NovoSaldo,
		TransactionID: mutation.TransactionID,
		OccurredAt:    createdAt,
	})

	return result, nil
}

// reservationID deriva o ID da chave enviada pelo cliente ou, sem ela, do conteúdo
// do pedido dentro da janela de deduplicação
func (uc *ReservationUseCase) reservationID(req ReserveRequest, at time.Time) string {
	if req.IdempotencyKey != "" {
		return uuid.NewSHA1(reservationNamespace, []byte(req.WalletID+"|"+req.IdempotencyKey)).String()
	}
	if uc.dedupWindow <= 0 {
		return uuid.New().String()
	}

	variacao := ""
	if req.VariacaoID != nil {
		variacao = *req.VariacaoID
	}
	bucket := at.UnixNano() / int64(uc.dedupWindow)
	key := fmt.Sprintf("%s|%s|%s|%d|%d|%d", req.WalletID, req.ProdutoID, variacao, req.Quantidade, req.PrecoUnitario, bucket)
	return uuid.NewSHA1(reservationNamespace, []byte(key)).String()
}
