package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookFixture struct {
	store    *memoryStore
	ledger   *LedgerUseCase
	lookup   *fakeLookup
	events   *recordingPublisher
	webhooks *WebhookUseCase
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	store, ledger := newTestLedger()
	lookup := newFakeLookup()
	events := &recordingPublisher{}
	return &webhookFixture{
		store:    store,
		ledger:   ledger,
		lookup:   lookup,
		events:   events,
		webhooks: NewWebhookUseCase(ledger, store, lookup, events, time.Second),
	}
}

func paymentNotification(id string) *WebhookNotification {
	n := &WebhookNotification{Type: "payment", Action: "payment.updated"}
	n.Data.ID = FlexibleID(id)
	return n
}

func rawPayload(id string) json.RawMessage {
	return json.RawMessage(`{"type":"payment","action":"payment.updated","data":{"id":"` + id + `"}}`)
}

func (f *webhookFixture) recharge(t *testing.T, id string) *RechargeRequest {
	t.Helper()
	rc, err := f.store.GetRechargeByID(context.Background(), id)
	require.NoError(t, err)
	return rc
}

func (f *webhookFixture) saldo(t *testing.T, walletID string) Centavos {
	t.Helper()
	w, err := f.ledger.GetWallet(context.Background(), walletID)
	require.NoError(t, err)
	return w.Saldo
}

func pixCredits(entries []LedgerEntry) []LedgerEntry {
	var out []LedgerEntry
	for _, e := range entries {
		if e.Tipo == LedgerTipoCreditoPix {
			out = append(out, e)
		}
	}
	return out
}

// Cenário 1: recarga aprovada credita a carteira
func TestProcess_ApprovedPaymentCreditsWallet(t *testing.T) {
	// Arrange
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 10000)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})

	// Act
	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ResultadoCreditado, result.Resultado)
	assert.Equal(t, "rc-1", result.RecargaID)
	assert.Equal(t, Centavos(15000), f.saldo(t, "w1"))

	rc := f.recharge(t, "rc-1")
	assert.Equal(t, RechargeStatusPago, rc.Status)
	assert.True(t, rc.Processado)
	require.NotNil(t, rc.PixID)
	assert.Equal(t, "123", *rc.PixID)
	require.NotNil(t, rc.TransactionID)
	assert.Equal(t, result.TransactionID, *rc.TransactionID)
	assert.NotEmpty(t, rc.WebhookPayload)

	credits := pixCredits(f.store.ledgerFor("w1"))
	require.Len(t, credits, 1)
	assert.Equal(t, Centavos(5000), credits[0].Valor)
	assert.Equal(t, "123", credits[0].ReferenciaID)

	paid := f.events.ofType(EventRecargaPaga)
	require.Len(t, paid, 1)
	assert.Equal(t, Centavos(15000), paid[0].NovoSaldo)
}

// Cenário 2: reentrega do mesmo webhook não credita de novo
func TestProcess_RedeliveryIsAcknowledgedWithoutCredit(t *testing.T) {
	// Arrange
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 10000)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})

	_, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))
	require.NoError(t, err)

	// Act
	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ResultadoJaProcessado, result.Resultado)
	assert.Equal(t, Centavos(15000), f.saldo(t, "w1"))
	assert.Len(t, pixCredits(f.store.ledgerFor("w1")), 1)
	assert.Len(t, f.events.ofType(EventRecargaPaga), 1)
}

func TestProcess_ConcurrentDeliveriesCreditOnce(t *testing.T) {
	// Arrange
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})
	const n = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		creditado int
	)

	// Act
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))
			if !assert.NoError(t, err) {
				return
			}
			if result.Resultado == ResultadoCreditado {
				mu.Lock()
				creditado++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Assert
	assert.Equal(t, 1, creditado)
	assert.Equal(t, Centavos(5000), f.saldo(t, "w1"))
	assert.Len(t, pixCredits(f.store.ledgerFor("w1")), 1)
	assert.Equal(t, RechargeStatusPago, f.recharge(t, "rc-1").Status)
}

// Cenário 5: pagamento rejeitado cancela a recarga
func TestProcess_RejectedPaymentCancelsRecharge(t *testing.T) {
	// Arrange
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 10000)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusRejected, Amount: 5000, RechargeID: "rc-1"})

	// Act
	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ResultadoCancelado, result.Resultado)
	assert.Equal(t, RechargeStatusCancelado, f.recharge(t, "rc-1").Status)
	assert.Equal(t, Centavos(10000), f.saldo(t, "w1"))
	assert.Empty(t, pixCredits(f.store.ledgerFor("w1")))
	assert.Len(t, f.events.ofType(EventRecargaCancelada), 1)

	// Um aprovado tardio não reabre a recarga cancelada
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})
	result, err = f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))
	require.NoError(t, err)
	assert.Equal(t, ResultadoCancelado, result.Resultado)
	assert.Equal(t, Centavos(10000), f.saldo(t, "w1"))
}

func TestProcess_PendingPaymentKeepsRechargePending(t *testing.T) {
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusInProcess, Amount: 5000, RechargeID: "rc-1"})

	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	require.NoError(t, err)
	assert.Equal(t, ResultadoPendente, result.Resultado)
	rc := f.recharge(t, "rc-1")
	assert.Equal(t, RechargeStatusPendente, rc.Status)
	require.NotNil(t, rc.PixID)
	assert.Equal(t, "123", *rc.PixID)
}

func TestProcess_LookupFailureChangesNothing(t *testing.T) {
	// Arrange
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.err = context.DeadlineExceeded

	// Act
	_, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	// Assert
	assert.ErrorIs(t, err, ErrPaymentLookup)
	rc := f.recharge(t, "rc-1")
	assert.Equal(t, RechargeStatusPendente, rc.Status)
	assert.Nil(t, rc.PixID)
	assert.Nil(t, rc.WebhookPayload)
	assert.Equal(t, Centavos(0), f.saldo(t, "w1"))
}

func TestProcess_StoreOutageAsksForRedelivery(t *testing.T) {
	// Arrange
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 10000)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})
	f.store.rechargeLookupErr = errors.New("connection refused")

	// Act
	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	// Assert: erro transitório, nada gravado
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, ResultadoErro, result.Resultado)
	rc := f.recharge(t, "rc-1")
	assert.Equal(t, RechargeStatusPendente, rc.Status)
	assert.Nil(t, rc.PixID)
	assert.Equal(t, Centavos(10000), f.saldo(t, "w1"))

	// a reentrega do processador credita quando o banco volta
	f.store.rechargeLookupErr = nil
	result, err = f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))
	require.NoError(t, err)
	assert.Equal(t, ResultadoCreditado, result.Resultado)
	assert.Equal(t, Centavos(15000), f.saldo(t, "w1"))
	assert.Len(t, pixCredits(f.store.ledgerFor("w1")), 1)
}

func TestProcess_PayloadRecordFailureAsksForRedelivery(t *testing.T) {
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})
	f.store.recordWebhookErr = errors.New("connection refused")

	_, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, Centavos(0), f.saldo(t, "w1"))
	assert.Empty(t, pixCredits(f.store.ledgerFor("w1")))
}

func TestProcess_UnknownPaymentIsAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)

	result, err := f.webhooks.Process(context.Background(), paymentNotification("999"), rawPayload("999"))

	require.NoError(t, err)
	assert.Equal(t, ResultadoSemPagamento, result.Resultado)
}

func TestProcess_NonPaymentNotificationIsIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	notif := &WebhookNotification{Type: "merchant_order"}
	notif.Data.ID = "555"

	result, err := f.webhooks.Process(context.Background(), notif, nil)

	require.NoError(t, err)
	assert.Equal(t, ResultadoIgnorado, result.Resultado)
	assert.Equal(t, 0, f.lookup.calls)
}

func TestProcess_MissingPaymentIDIsMalformed(t *testing.T) {
	f := newWebhookFixture(t)

	_, err := f.webhooks.Process(context.Background(), &WebhookNotification{Type: "payment"}, nil)

	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestProcess_AmountMismatchMarksError(t *testing.T) {
	// Arrange
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 4999, RechargeID: "rc-1"})

	// Act
	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ResultadoErro, result.Resultado)
	rc := f.recharge(t, "rc-1")
	assert.Equal(t, RechargeStatusErro, rc.Status)
	assert.Equal(t, 1, rc.Tentativas)
	require.NotNil(t, rc.ErroMensagem)
	assert.Contains(t, *rc.ErroMensagem, "valor divergente")
	assert.Equal(t, Centavos(0), f.saldo(t, "w1"))
	assert.Len(t, f.events.ofType(EventRecargaErro), 1)
}

func TestProcess_BlockedWalletMarksErrorThenReprocessCredits(t *testing.T) {
	// Arrange
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	require.NoError(t, f.ledger.SetWalletStatus(context.Background(), "w1", WalletStatusBloqueado))
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})

	// Act 1: carteira bloqueada
	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	// Assert 1
	require.NoError(t, err)
	assert.Equal(t, ResultadoErro, result.Resultado)
	rc := f.recharge(t, "rc-1")
	assert.Equal(t, RechargeStatusErro, rc.Status)
	assert.Equal(t, 1, rc.Tentativas)
	require.NotNil(t, rc.ErroMensagem)

	// Act 2: desbloqueia e reprocessa
	require.NoError(t, f.ledger.SetWalletStatus(context.Background(), "w1", WalletStatusAtivo))
	result, err = f.webhooks.Reprocess(context.Background(), "rc-1")

	// Assert 2
	require.NoError(t, err)
	assert.Equal(t, ResultadoCreditado, result.Resultado)
	assert.Equal(t, Centavos(5000), f.saldo(t, "w1"))
	rc = f.recharge(t, "rc-1")
	assert.Equal(t, RechargeStatusPago, rc.Status)
	assert.Nil(t, rc.ErroMensagem)
}

func TestProcess_FallbackMatchesSinglePendingRecharge(t *testing.T) {
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, WalletID: "w1"})

	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	require.NoError(t, err)
	assert.Equal(t, ResultadoCreditado, result.Resultado)
	assert.Equal(t, "rc-1", result.RecargaID)
	assert.Equal(t, Centavos(5000), f.saldo(t, "w1"))
}

func TestProcess_FallbackRefusesAmbiguousMatch(t *testing.T) {
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.store.addRecharge(NewRechargeRequest("rc-2", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, WalletID: "w1"})

	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	require.NoError(t, err)
	assert.Equal(t, ResultadoSemRecarga, result.Resultado)
	assert.Equal(t, Centavos(0), f.saldo(t, "w1"))
	assert.Equal(t, RechargeStatusPendente, f.recharge(t, "rc-1").Status)
	assert.Equal(t, RechargeStatusPendente, f.recharge(t, "rc-2").Status)
}

func TestProcess_RefundOnPaidRechargeOnlyWarns(t *testing.T) {
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})
	_, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))
	require.NoError(t, err)

	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusRefunded, Amount: 5000, RechargeID: "rc-1"})
	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	require.NoError(t, err)
	assert.Equal(t, ResultadoJaProcessado, result.Resultado)
	assert.Equal(t, RechargeStatusPago, f.recharge(t, "rc-1").Status)
	assert.Equal(t, Centavos(5000), f.saldo(t, "w1"))
}

func TestProcess_ExistingCreditSyncsRechargeOnReplay(t *testing.T) {
	// Arrange: crédito gravado mas recarga ainda PENDENTE
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	original, err := f.ledger.Mutate(context.Background(), credit("w1", "123", 5000))
	require.NoError(t, err)
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})

	// Act
	result, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ResultadoJaProcessado, result.Resultado)
	assert.Equal(t, Centavos(5000), f.saldo(t, "w1"))
	rc := f.recharge(t, "rc-1")
	assert.Equal(t, RechargeStatusPago, rc.Status)
	require.NotNil(t, rc.TransactionID)
	assert.Equal(t, original.TransactionID, *rc.TransactionID)
}

func TestReprocess_Errors(t *testing.T) {
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))

	_, err := f.webhooks.Reprocess(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRechargeNotFound)

	_, err = f.webhooks.Reprocess(context.Background(), "rc-1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReprocessWorker_RunOnce(t *testing.T) {
	// Arrange
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	f.store.addRecharge(NewRechargeRequest("rc-1", "w1", 5000))
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})

	f.lookup.err = errors.New("timeout")
	_, err := f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))
	require.ErrorIs(t, err, ErrPaymentLookup)

	// uma segunda entrega registra o pix_id mas falha no crédito
	f.lookup.err = nil
	require.NoError(t, f.ledger.SetWalletStatus(context.Background(), "w1", WalletStatusBloqueado))
	_, err = f.webhooks.Process(context.Background(), paymentNotification("123"), rawPayload("123"))
	require.NoError(t, err)
	require.Equal(t, RechargeStatusErro, f.recharge(t, "rc-1").Status)
	require.NoError(t, f.ledger.SetWalletStatus(context.Background(), "w1", WalletStatusAtivo))

	worker := NewReprocessWorker(f.webhooks, f.store, WorkerConfig{
		ReprocessInterval:    time.Minute,
		ReprocessMaxAttempts: 3,
		PendingStaleAfter:    time.Minute,
		ReprocessBatchSize:   10,
	})

	// Act
	creditadas := worker.RunOnce(context.Background())

	// Assert
	assert.Equal(t, 1, creditadas)
	assert.Equal(t, RechargeStatusPago, f.recharge(t, "rc-1").Status)
	assert.Equal(t, Centavos(5000), f.saldo(t, "w1"))
	assert.Equal(t, 0, worker.RunOnce(context.Background()))
}

func TestReprocessWorker_StopsBatchWhenStoreIsUnavailable(t *testing.T) {
	// Arrange: duas recargas em ERRO com pix_id
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	for _, id := range []string{"rc-1", "rc-2"} {
		rc := NewRechargeRequest(id, "w1", 5000)
		pix := "pay-" + id
		rc.PixID = &pix
		rc.Status = RechargeStatusErro
		f.store.addRecharge(rc)
		f.lookup.set(PaymentInfo{ID: pix, Status: PaymentStatusApproved, Amount: 5000, RechargeID: id})
	}
	f.store.rechargeByIDErr = errors.New("connection refused")
	worker := NewReprocessWorker(f.webhooks, f.store, WorkerConfig{
		ReprocessInterval:    time.Minute,
		ReprocessMaxAttempts: 3,
		PendingStaleAfter:    time.Minute,
		ReprocessBatchSize:   10,
	})

	// Act
	creditadas := worker.RunOnce(context.Background())

	// Assert: o lote para na primeira falha e nada é consultado
	assert.Equal(t, 0, creditadas)
	assert.Equal(t, 0, f.lookup.calls)

	_, err := f.webhooks.Reprocess(context.Background(), "rc-1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	f.store.rechargeByIDErr = nil
	assert.Equal(t, 2, worker.RunOnce(context.Background()))
	assert.Equal(t, Centavos(10000), f.saldo(t, "w1"))
}

func TestReprocessWorker_SkipsExhaustedRecharges(t *testing.T) {
	f := newWebhookFixture(t)
	seedWallet(t, f.store, f.ledger, "w1", 0)
	pix := "123"
	rc := NewRechargeRequest("rc-1", "w1", 5000)
	rc.PixID = &pix
	rc.Status = RechargeStatusErro
	rc.Tentativas = 3
	f.store.addRecharge(rc)
	f.lookup.set(PaymentInfo{ID: "123", Status: PaymentStatusApproved, Amount: 5000, RechargeID: "rc-1"})

	worker := NewReprocessWorker(f.webhooks, f.store, WorkerConfig{
		ReprocessInterval:    time.Minute,
		ReprocessMaxAttempts: 3,
		PendingStaleAfter:    time.Minute,
		ReprocessBatchSize:   10,
	})

	assert.Equal(t, 0, worker.RunOnce(context.Background()))
	assert.Equal(t, 0, f.lookup.calls)
}

func TestParseWebhookNotification(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		query     url.Values
		wantID    string
		isPayment bool
		wantErr   error
	}{
		{
			name:      "string id",
			body:      `{"type":"payment","data":{"id":"123"}}`,
			wantID:    "123",
			isPayment: true,
		},
		{
			name:      "numeric id",
			body:      `{"action":"payment.updated","data":{"id":98765432101}}`,
			wantID:    "98765432101",
			isPayment: true,
		},
		{
			name:      "ipn query string",
			body:      ``,
			query:     url.Values{"topic": {"payment"}, "id": {"42"}},
			wantID:    "42",
			isPayment: true,
		},
		{
			name:      "midtrans order id",
			body:      `{"order_id":"RECARGA-rc-1","transaction_status":"settlement"}`,
			wantID:    "RECARGA-rc-1",
			isPayment: true,
		},
		{
			name:      "other topic",
			body:      `{"type":"plan","data":{"id":"7"}}`,
			wantID:    "7",
			isPayment: false,
		},
		{
			name:    "missing id",
			body:    `{"type":"payment","data":{}}`,
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "invalid json",
			body:    `{"type":`,
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "invalid id type",
			body:    `{"type":"payment","data":{"id":{"x":1}}}`,
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notif, err := ParseWebhookNotification([]byte(tt.body), tt.query)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, notif.PaymentID())
			assert.Equal(t, tt.isPayment, notif.IsPaymentEvent())
		})
	}
}
