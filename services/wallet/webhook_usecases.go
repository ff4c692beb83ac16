package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Resultados do processamento de uma notificação
const (
	ResultadoIgnorado     = "ignorado"
	ResultadoSemPagamento = "sem_pagamento"
	ResultadoSemRecarga   = "sem_recarga"
	ResultadoJaProcessado = "ja_processado"
	ResultadoCreditado    = "creditado"
	ResultadoPendente     = "pendente"
	ResultadoCancelado    = "cancelado"
	ResultadoErro         = "erro"
)

// FlexibleID aceita o id como string ou número no JSON
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id inválido: %s", string(data))
	}
	*f = FlexibleID(n.String())
	return nil
}

// WebhookNotification é o corpo enviado pelo processador de pagamentos
type WebhookNotification struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID FlexibleID `json:"id"`
	} `json:"data"`

	// Formato Midtrans
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
}

// ParseWebhookNotification lê o corpo JSON e completa com a query string (formato IPN)
func ParseWebhookNotification(body []byte, query url.Values) (*WebhookNotification, error) {
	var notif WebhookNotification
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &notif); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	if notif.Data.ID == "" {
		if id := query.Get("data.id"); id != "" {
			notif.Data.ID = FlexibleID(id)
		} else if id := query.Get("id"); id != "" {
			notif.Data.ID = FlexibleID(id)
		}
	}
	if notif.Type == "" {
		notif.Type = query.Get("type")
	}
	if notif.Topic == "" {
		notif.Topic = query.Get("topic")
	}

	if notif.PaymentID() == "" {
		return nil, fmt.Errorf("%w: payment id ausente", ErrMalformedPayload)
	}
	return &notif, nil
}

// PaymentID devolve o identificador usado na consulta ao processador
func (n *WebhookNotification) PaymentID() string {
	if n.Data.ID != "" {
		return string(n.Data.ID)
	}
	return strings.TrimSpace(n.OrderID)
}

// IsPaymentEvent indica se a notificação se refere a um pagamento
func (n *WebhookNotification) IsPaymentEvent() bool {
	if n.Type == "payment" || n.Topic == "payment" || strings.HasPrefix(n.Action, "payment.") {
		return true
	}
	return n.Data.ID == "" && n.OrderID != ""
}

// WebhookResult é devolvido no corpo da resposta do webhook
type WebhookResult struct {
	Resultado     string `json:"resultado"`
	PaymentID     string `json:"payment_id,omitempty"`
	RecargaID     string `json:"recarga_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Mensagem      string `json:"mensagem,omitempty"`
}

// WebhookUseCase credita a carteira a partir das notificações de pagamento
type WebhookUseCase struct {
	ledger        *LedgerUseCase
	recharges     RechargeRepository
	lookup        PaymentLookup
	events        EventPublisher
	lookupTimeout time.Duration
	counter       metric.Int64Counter
}

// NewWebhookUseCase cria uma nova instância de WebhookUseCase
func NewWebhookUseCase(ledger *LedgerUseCase, recharges RechargeRepository, lookup PaymentLookup, events EventPublisher, lookupTimeout time.Duration) *WebhookUseCase {
	if events == nil {
		events = NoopEventPublisher{}
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 10 * time.Second
	}

	counter, _ := otel.Meter("wallet-service").Int64Counter("wallet_webhooks_total",
		metric.WithDescription("Notificações de pagamento processadas por resultado"))

	return &WebhookUseCase{
		ledger:        ledger,
		recharges:     recharges,
		lookup:        lookup,
		events:        events,
		lookupTimeout: lookupTimeout,
		counter:       counter,
	}
}

// Process trata uma notificação. Erros devolvidos são ErrMalformedPayload, ErrPaymentLookup
// ou ErrStoreUnavailable (antes de o payload ficar gravado); as demais falhas ficam
// registradas na recarga e o webhook é confirmado.
func (uc *WebhookUseCase) Process(ctx context.Context, notif *WebhookNotification, raw json.RawMessage) (WebhookResult, error) {
	paymentID := notif.PaymentID()
	if paymentID == "" {
		return WebhookResult{}, ErrMalformedPayload
	}

	if !notif.IsPaymentEvent() {
		log.Printf("ℹ️ [WEBHOOK] Notificação ignorada | type=%q | action=%q | id=%s", notif.Type, notif.Action, paymentID)
		uc.count(ctx, ResultadoIgnorado)
		return WebhookResult{Resultado: ResultadoIgnorado, PaymentID: paymentID}, nil
	}

	ctx, span := StartWebhookSpan(ctx, "process", paymentID)
	defer span.End()

	result, err := uc.processPayment(ctx, paymentID, raw, nil)
	if err != nil {
		span.RecordError(err)
		uc.count(ctx, errorCode(err))
		return result, err
	}

	span.SetAttributes(attribute.String("webhook.resultado", result.Resultado))
	uc.count(ctx, result.Resultado)
	return result, nil
}

// Reprocess repete o processamento de uma recarga a partir do pagamento associado
func (uc *WebhookUseCase) Reprocess(ctx context.Context, rechargeID string) (WebhookResult, error) {
	recharge, err := uc.recharges.GetRechargeByID(ctx, rechargeID)
	if errors.Is(err, ErrRechargeNotFound) {
		return WebhookResult{}, err
	}
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if recharge.AlreadyCredited() {
		return WebhookResult{Resultado: ResultadoJaProcessado, RecargaID: recharge.ID}, nil
	}

	paymentID := storedPaymentID(recharge)
	if paymentID == "" {
		return WebhookResult{}, invalidInput("recarga %s sem pagamento associado", recharge.ID)
	}

	ctx, span := StartWebhookSpan(ctx, "reprocess", paymentID)
	defer span.End()

	log.Printf("⏳ [REPROCESS] Reprocessando recarga | RecargaID=%s | PaymentID=%s | Tentativas=%d",
		recharge.ID, paymentID, recharge.Tentativas)

	result, err := uc.processPayment(ctx, paymentID, nil, recharge)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	span.SetAttributes(attribute.String("webhook.resultado", result.Resultado))
	return result, nil
}

// storedPaymentID recupera o id do pagamento do pix_id ou do payload guardado
func storedPaymentID(recharge *RechargeRequest) string {
	if recharge.PixID != nil && *recharge.PixID != "" {
		return *recharge.PixID
	}
	if len(recharge.WebhookPayload) == 0 {
		return ""
	}
	notif, err := ParseWebhookNotification(recharge.WebhookPayload, nil)
	if err != nil {
		return ""
	}
	return notif.PaymentID()
}

func (uc *WebhookUseCase) processPayment(ctx context.Context, paymentID string, raw json.RawMessage, recharge *RechargeRequest) (WebhookResult, error) {
	result := WebhookResult{PaymentID: paymentID}

	// 1. Status autoritativo no processador (nunca o do payload)
	lookupCtx, cancel := context.WithTimeout(ctx, uc.lookupTimeout)
	payment, err := uc.lookup.GetPayment(lookupCtx, paymentID)
	cancel()
	if errors.Is(err, ErrPaymentNotFound) {
		log.Printf("⚠️ [WEBHOOK] Pagamento desconhecido no processador | PaymentID=%s", paymentID)
		result.Resultado = ResultadoSemPagamento
		return result, nil
	}
	if err != nil {
		log.Printf("❌ [WEBHOOK] Falha ao consultar pagamento | PaymentID=%s | Error=%v", paymentID, err)
		return result, fmt.Errorf("%w: %v", ErrPaymentLookup, err)
	}

	// 2. Localiza a recarga
	if recharge == nil {
		recharge, err = uc.resolveRecharge(ctx, payment)
		if err != nil {
			// nada foi gravado: o processador precisa reenviar
			log.Printf("❌ [WEBHOOK] Falha ao localizar recarga | PaymentID=%s | Error=%v", paymentID, err)
			result.Resultado = ResultadoErro
			return result, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if recharge == nil {
			log.Printf("⚠️ [WEBHOOK] Nenhuma recarga para o pagamento | PaymentID=%s | Ref=%q | WalletID=%q",
				paymentID, payment.RechargeID, payment.WalletID)
			result.Resultado = ResultadoSemRecarga
			return result, nil
		}
	}
	result.RecargaID = recharge.ID

	// 3. Guarda contra crédito duplicado
	if recharge.AlreadyCredited() {
		if payment.Status == PaymentStatusRefunded || payment.Status == PaymentStatusChargedBack {
			log.Printf("🚨 [RECONCILIACAO] Pagamento %s de recarga já creditada | RecargaID=%s | PaymentID=%s | WalletID=%s",
				payment.Status, recharge.ID, paymentID, recharge.WalletID)
		}
		log.Printf("ℹ️ [WEBHOOK] Recarga já processada | RecargaID=%s | PaymentID=%s", recharge.ID, paymentID)
		result.Resultado = ResultadoJaProcessado
		return result, nil
	}
	if recharge.Status == RechargeStatusCancelado {
		log.Printf("ℹ️ [WEBHOOK] Recarga cancelada, nada a fazer | RecargaID=%s | PaymentID=%s", recharge.ID, paymentID)
		result.Resultado = ResultadoCancelado
		return result, nil
	}

	// 4. Guarda o payload para reprocessamento manual
	if raw != nil {
		if err := uc.recharges.RecordWebhook(ctx, recharge.ID, paymentID, raw, time.Now()); err != nil {
			log.Printf("❌ [WEBHOOK] Falha ao gravar payload | RecargaID=%s | Error=%v", recharge.ID, err)
			result.Resultado = ResultadoErro
			return result, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	// 5. Decide pelo status do pagamento
	switch payment.Status {
	case PaymentStatusApproved:
		return uc.credit(ctx, recharge, payment, result), nil

	case PaymentStatusPending, PaymentStatusInProcess, PaymentStatusAuthorized:
		log.Printf("⏳ [WEBHOOK] Pagamento aguardando | RecargaID=%s | PaymentID=%s | Status=%s",
			recharge.ID, paymentID, payment.Status)
		result.Resultado = ResultadoPendente
		return result, nil

	case PaymentStatusRejected, PaymentStatusCancelled, PaymentStatusRefunded, PaymentStatusChargedBack:
		changed, err := uc.recharges.MarkRechargeCancelled(ctx, recharge.ID)
		if err != nil {
			log.Printf("❌ [WEBHOOK] Falha ao cancelar recarga | RecargaID=%s | Error=%v", recharge.ID, err)
			result.Resultado = ResultadoErro
			result.Mensagem = "falha ao cancelar recarga"
			return result, nil
		}
		if changed {
			log.Printf("✅ [WEBHOOK] Recarga cancelada | RecargaID=%s | PaymentID=%s | Status=%s",
				recharge.ID, paymentID, payment.Status)
			uc.events.Publish(ctx, WalletEvent{
				Type:         EventRecargaCancelada,
				WalletID:     recharge.WalletID,
				ReferenciaID: recharge.ID,
				Valor:        recharge.Valor,
				OccurredAt:   time.Now(),
			})
		}
		result.Resultado = ResultadoCancelado
		return result, nil

	default:
		log.Printf("⚠️ [WEBHOOK] Status desconhecido | RecargaID=%s | PaymentID=%s | Status=%q",
			recharge.ID, paymentID, payment.Status)
		result.Resultado = ResultadoIgnorado
		return result, nil
	}
}

// resolveRecharge busca por pix_id, depois pela referência explícita e, por último,
// por (carteira, PENDENTE, valor) quando houver exatamente uma candidata
func (uc *WebhookUseCase) resolveRecharge(ctx context.Context, payment *PaymentInfo) (*RechargeRequest, error) {
	recharge, err := uc.recharges.GetRechargeByPixID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if recharge != nil {
		return recharge, nil
	}

	if payment.RechargeID != "" {
		recharge, err = uc.recharges.GetRechargeByID(ctx, payment.RechargeID)
		if err == nil {
			return recharge, nil
		}
		if !errors.Is(err, ErrRechargeNotFound) {
			return nil, err
		}
	}

	if payment.WalletID == "" {
		return nil, nil
	}

	candidates, err := uc.recharges.FindPendingRecharges(ctx, payment.WalletID, payment.Amount)
	if err != nil {
		return nil, err
	}
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		log.Printf("ℹ️ [WEBHOOK] Recarga localizada por carteira+valor | RecargaID=%s | PaymentID=%s",
			candidates[0].ID, payment.ID)
		return &candidates[0], nil
	default:
		log.Printf("⚠️ [WEBHOOK] Casamento ambíguo, %d recargas pendentes | WalletID=%s | Valor=%s | PaymentID=%s",
			len(candidates), payment.WalletID, payment.Amount, payment.ID)
		return nil, nil
	}
}

func (uc *WebhookUseCase) credit(ctx context.Context, recharge *RechargeRequest, payment *PaymentInfo, result WebhookResult) WebhookResult {
	if payment.Amount != recharge.Valor {
		msg := fmt.Sprintf("valor divergente: esperado %s, recebido %s", recharge.Valor, payment.Amount)
		uc.markError(ctx, recharge, msg)
		result.Resultado = ResultadoErro
		result.Mensagem = msg
		return result
	}

	pagoEm := time.Now()
	mutation, err := uc.ledger.Mutate(ctx, MutationRequest{
		WalletID:       recharge.WalletID,
		Delta:          recharge.Valor,
		Tipo:           LedgerTipoCreditoPix,
		Descricao:      "Recarga PIX " + payment.ID,
		ReferenciaTipo: ReferenciaPix,
		ReferenciaID:   payment.ID,
		OnApplied: func(ctx context.Context, tx Tx, applied *MutationResult) error {
			updated, err := uc.recharges.MarkRechargePaid(ctx, tx, recharge.ID, applied.TransactionID, pagoEm)
			if err != nil {
				return err
			}
			if !updated {
				return fmt.Errorf("recarga %s não está mais pendente", recharge.ID)
			}
			return nil
		},
	})
	if err != nil {
		uc.markError(ctx, recharge, err.Error())
		result.Resultado = ResultadoErro
		result.Mensagem = errorCode(err)
		return result
	}
	result.TransactionID = mutation.TransactionID

	if mutation.Replayed {
		// Crédito já existia: garante que a recarga reflita isso
		if _, err := uc.recharges.MarkRechargePaid(ctx, nil, recharge.ID, mutation.TransactionID, pagoEm); err != nil {
			log.Printf("⚠️ [WEBHOOK] Falha ao sincronizar recarga após replay | RecargaID=%s | Error=%v", recharge.ID, err)
		}
		result.Resultado = ResultadoJaProcessado
		return result
	}

	log.Printf("✅ [WEBHOOK] Recarga creditada | RecargaID=%s | WalletID=%s | Valor=%s | NovoSaldo=%s | TxID=%s",
		recharge.ID, recharge.WalletID, recharge.Valor, mutation.NovoSaldo, mutation.TransactionID)

	uc.events.Publish(ctx, WalletEvent{
		Type:          EventRecargaPaga,
		WalletID:      recharge.WalletID,
		ReferenciaID:  recharge.ID,
		Valor:         recharge.Valor,
		NovoSaldo:     mutation.NovoSaldo,
		TransactionID: mutation.TransactionID,
		OccurredAt:    pagoEm,
	})

	result.Resultado = ResultadoCreditado
	return result
}

func (uc *WebhookUseCase) markError(ctx context.Context, recharge *RechargeRequest, msg string) {
	log.Printf("❌ [WEBHOOK] Erro ao creditar recarga | RecargaID=%s | WalletID=%s | Error=%s",
		recharge.ID, recharge.WalletID, msg)

	if err := uc.recharges.MarkRechargeError(ctx, recharge.ID, msg); err != nil {
		log.Printf("❌ [WEBHOOK] Falha ao marcar ERRO | RecargaID=%s | Error=%v", recharge.ID, err)
		return
	}

	uc.events.Publish(ctx, WalletEvent{
		Type:         EventRecargaErro,
		WalletID:     recharge.WalletID,
		ReferenciaID: recharge.ID,
		Valor:        recharge.Valor,
		OccurredAt:   time.Now(),
	})
}

func (uc *WebhookUseCase) count(ctx context.Context, resultado string) {
	if uc.counter == nil {
		return
	}
	uc.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("resultado", resultado)))
}
