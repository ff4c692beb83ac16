package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxWebhookBody = 1 << 20

// LedgerService é o subconjunto de LedgerUseCase usado pelos handlers
type LedgerService interface {
	GetWallet(ctx context.Context, walletID string) (*Wallet, error)
	ListEntries(ctx context.Context, walletID string, limit, offset int) ([]LedgerEntry, error)
	EnsureWallet(ctx context.Context, walletID, ownerID string, ownerTipo OwnerTipo) (*Wallet, error)
	SetWalletStatus(ctx context.Context, walletID string, status WalletStatus) error
	CheckConsistency(ctx context.Context, walletID string) (bool, error)
}

type ReservationService interface {
	Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error)
}

type WebhookService interface {
	Process(ctx context.Context, notif *WebhookNotification, raw json.RawMessage) (WebhookResult, error)
	Reprocess(ctx context.Context, rechargeID string) (WebhookResult, error)
}

type FeatureChecker interface {
	IsEnabled(ctx context.Context, slug, userID string) bool
}

// ReserveHTTPRequest é o corpo de POST /api/wallet/reservas
type ReserveHTTPRequest struct {
	ProdutoID     string           `json:"produto_id" binding:"required"`
	VariacaoID    *string          `json:"variacao_id"`
	Quantidade    int              `json:"quantidade" binding:"required,gt=0"`
	PrecoUnitario *decimal.Decimal `json:"preco_unitario"`
	Metadata      map[string]any   `json:"metadata"`
}

// CreateWalletRequest é o corpo de POST /api/admin/wallets
type CreateWalletRequest struct {
	WalletID  string    `json:"wallet_id" binding:"required"`
	OwnerID   string    `json:"owner_id" binding:"required"`
	OwnerTipo OwnerTipo `json:"owner_tipo" binding:"required"`
}

// WalletHandler contém os handlers HTTP
type WalletHandler struct {
	ledger        LedgerService
	reservations  ReservationService
	webhooks      WebhookService
	features      FeatureChecker
	tracer        trace.Tracer
	webhookSecret string
}

// NewWalletHandler cria uma nova instância de WalletHandler
func NewWalletHandler(ledger LedgerService, reservations ReservationService, webhooks WebhookService, features FeatureChecker, tracer trace.Tracer, webhookSecret string) *WalletHandler {
	return &WalletHandler{
		ledger:        ledger,
		reservations:  reservations,
		webhooks:      webhooks,
		features:      features,
		tracer:        tracer,
		webhookSecret: webhookSecret,
	}
}

// PaymentWebhook recebe a notificação do processador de pagamentos
func (h *WalletHandler) PaymentWebhook(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "payment_webhook")
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "corpo inválido"})
		return
	}

	notif, err := ParseWebhookNotification(body, c.Request.URL.Query())
	if err != nil {
		log.Printf("⚠️ [WEBHOOK] Payload malformado | IP=%s | Error=%v", c.ClientIP(), err)
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("payment.id", notif.PaymentID()))

	if h.webhookSecret != "" {
		dataID := c.Query("data.id")
		if dataID == "" {
			dataID = notif.PaymentID()
		}
		if err := VerifyWebhookSignature(h.webhookSecret, c.GetHeader("x-signature"), c.GetHeader("x-request-id"), dataID); err != nil {
			log.Printf("⚠️ [WEBHOOK] Assinatura inválida | IP=%s | PaymentID=%s", c.ClientIP(), notif.PaymentID())
			span.RecordError(err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "assinatura inválida"})
			return
		}
	}

	var raw json.RawMessage
	if json.Valid(body) {
		raw = body
	} else {
		raw, _ = json.Marshal(c.Request.URL.Query())
	}

	result, err := h.webhooks.Process(ctx, notif, raw)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, ErrMalformedPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ErrPaymentLookup):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "falha ao consultar pagamento"})
		case errors.Is(err, ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "falha ao registrar notificação"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "ok", "resultado": ResultadoErro})
		}
		return
	}

	span.SetAttributes(attribute.String("webhook.resultado", result.Resultado))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "resultado": result.Resultado, "recarga_id": result.RecargaID})
}

// Reserve reserva uma peça debitando a caixinha da carteira do token
func (h *WalletHandler) Reserve(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_reservation")
	defer span.End()

	var req ReserveHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.PrecoUnitario == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "preco_unitario é obrigatório"})
		return
	}
	preco, err := CentavosFromDecimal(*req.PrecoUnitario)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	walletID := c.GetString(ctxWalletID)
	span.SetAttributes(
		attribute.String("wallet.id", walletID),
		attribute.String("produto.id", req.ProdutoID),
		attribute.Int("quantidade", req.Quantidade),
	)

	result, err := h.reservations.Reserve(ctx, ReserveRequest{
		WalletID:       walletID,
		Slug:           c.GetString(ctxSlug),
		UserID:         c.GetString(ctxUserID),
		ProdutoID:      req.ProdutoID,
		VariacaoID:     req.VariacaoID,
		Quantidade:     req.Quantidade,
		PrecoUnitario:  preco,
		Metadata:       req.Metadata,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"reserva_id":     result.ReservaID,
		"novo_saldo":     result.NovoSaldo.String(),
		"preco_total":    result.PrecoTotal.String(),
		"transaction_id": result.TransactionID,
		"replayed":       result.Replayed,
	})
}

// GetBalance retorna o saldo da carteira do token
func (h *WalletHandler) GetBalance(c *gin.Context) {
	wallet, err := h.ledger.GetWallet(c.Request.Context(), c.GetString(ctxWalletID))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet_id":       wallet.ID,
		"saldo":           wallet.Saldo.String(),
		"saldo_centavos":  int64(wallet.Saldo),
		"saldo_formatado": FormatBRL(wallet.Saldo),
		"status":          wallet.Status,
	})
}

// GetStatement retorna o extrato paginado (limit, offset)
func (h *WalletHandler) GetStatement(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.ledger.ListEntries(c.Request.Context(), c.GetString(ctxWalletID), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		items = append(items, gin.H{
			"id":              e.ID,
			"tipo":            e.Tipo,
			"valor":           e.Valor.String(),
			"saldo_apos":      e.SaldoApos.String(),
			"descricao":       e.Descricao,
			"referencia_tipo": e.ReferenciaTipo,
			"referencia_id":   e.ReferenciaID,
			"transaction_id":  e.TransactionID,
			"created_at":      e.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"lancamentos": items, "limit": limit, "offset": offset})
}

// FeatureStatus informa se a caixinha está ativa para a loja/usuário
func (h *WalletHandler) FeatureStatus(c *gin.Context) {
	slug := c.Query("slug")
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug é obrigatório"})
		return
	}
	userID := c.Query("user_id")

	c.JSON(http.StatusOK, gin.H{
		"slug":    slug,
		"user_id": userID,
		"enabled": h.features.IsEnabled(c.Request.Context(), slug, userID),
	})
}

// CreateWallet provisiona uma carteira (idempotente)
func (h *WalletHandler) CreateWallet(c *gin.Context) {
	var req CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wallet, err := h.ledger.EnsureWallet(c.Request.Context(), req.WalletID, req.OwnerID, req.OwnerTipo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

// BlockWallet bloqueia a carteira
func (h *WalletHandler) BlockWallet(c *gin.Context) {
	h.setStatus(c, WalletStatusBloqueado)
}

// UnblockWallet reativa a carteira
func (h *WalletHandler) UnblockWallet(c *gin.Context) {
	h.setStatus(c, WalletStatusAtivo)
}

func (h *WalletHandler) setStatus(c *gin.Context, status WalletStatus) {
	walletID := c.Param("id")
	if err := h.ledger.SetWalletStatus(c.Request.Context(), walletID, status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet_id": walletID, "status": status})
}

// CheckConsistency compara o saldo com a soma do extrato
func (h *WalletHandler) CheckConsistency(c *gin.Context) {
	walletID := c.Param("id")
	ok, err := h.ledger.CheckConsistency(c.Request.Context(), walletID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet_id": walletID, "consistente": ok})
}

// ReprocessRecharge reprocessa manualmente uma recarga
func (h *WalletHandler) ReprocessRecharge(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "reprocess_recharge")
	defer span.End()

	rechargeID := c.Param("id")
	span.SetAttributes(attribute.String("recarga.id", rechargeID))

	result, err := h.webhooks.Reprocess(ctx, rechargeID)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HealthCheck verifica a saúde do serviço
func (h *WalletHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "wallet-service",
	})
}

// writeError traduz os erros de negócio para status HTTP
func writeError(c *gin.Context, err error) {
	var insufficient *InsufficientBalanceError
	if errors.As(err, &insufficient) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     ErrInsufficientBalance.Code,
			"saldo":     insufficient.Saldo.String(),
			"shortfall": insufficient.Shortfall.String(),
			"mensagem":  "Faltam " + FormatBRL(insufficient.Shortfall),
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ErrFeatureDisabled), errors.Is(err, ErrWalletBlocked):
		status = http.StatusForbidden
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrRechargeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrReferenceConflict):
		status = http.StatusConflict
	case errors.Is(err, ErrPaymentLookup), errors.Is(err, ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusServiceUnavailable {
		log.Printf("⚠️ [HTTP] %s %s | Error=%v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": errorCode(err), "mensagem": "serviço indisponível, tente novamente"})
		return
	}

	if status == http.StatusInternalServerError {
		log.Printf("❌ [HTTP] %s %s | Error=%v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal_error", "mensagem": "erro interno, tente novamente"})
		return
	}

	c.JSON(status, gin.H{"error": errorCode(err), "mensagem": err.Error()})
}
