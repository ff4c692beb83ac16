package main

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WalletStatus representa os estados possíveis de uma carteira
type WalletStatus string

const (
	WalletStatusAtivo     WalletStatus = "ativo"
	WalletStatusBloqueado WalletStatus = "bloqueado"
)

// OwnerTipo identifica o tipo de conta dona da carteira
type OwnerTipo string

const (
	OwnerTipoRevendedor OwnerTipo = "revendedor"
	OwnerTipoCliente    OwnerTipo = "cliente"
)

// Wallet representa a caixinha (saldo pré-pago) de um revendedor ou cliente
type Wallet struct {
	ID        string       `json:"id" db:"id"`
	OwnerID   string       `json:"owner_id" db:"owner_id"`
	OwnerTipo OwnerTipo    `json:"owner_tipo" db:"owner_tipo"`
	Saldo     Centavos     `json:"saldo" db:"saldo"`
	Status    WalletStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// NewWallet cria uma nova carteira ativa com saldo zero
func NewWallet(id, ownerID string, ownerTipo OwnerTipo) *Wallet {
	now := time.Now()
	return &Wallet{
		ID:        id,
		OwnerID:   ownerID,
		OwnerTipo: ownerTipo,
		Saldo:     0,
		Status:    WalletStatusAtivo,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (w *Wallet) IsBlocked() bool {
	return w.Status == WalletStatusBloqueado
}

// LedgerTipo representa os tipos de lançamento do extrato
type LedgerTipo string

const (
	LedgerTipoCreditoPix    LedgerTipo = "CREDITO_PIX"
	LedgerTipoDebitoReserva LedgerTipo = "DEBITO_RESERVA"
	LedgerTipoAjusteManual  LedgerTipo = "AJUSTE_MANUAL"
)

// Tipos de referência usados como chave de idempotência
const (
	ReferenciaPix     = "pix"
	ReferenciaReserva = "reserva"
)

// LedgerEntry é um lançamento imutável do extrato.
// Valor é assinado: créditos positivos, débitos negativos.
type LedgerEntry struct {
	ID             string     `json:"id" db:"id"`
	WalletID       string     `json:"wallet_id" db:"wallet_id"`
	Tipo           LedgerTipo `json:"tipo" db:"tipo"`
	Valor          Centavos   `json:"valor" db:"valor"`
	SaldoApos      Centavos   `json:"saldo_apos" db:"saldo_apos"`
	Descricao      string     `json:"descricao" db:"descricao"`
	ReferenciaTipo string     `json:"referencia_tipo" db:"referencia_tipo"`
	ReferenciaID   string     `json:"referencia_id" db:"referencia_id"`
	TransactionID  string     `json:"transaction_id" db:"transaction_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// NewLedgerEntry cria um novo lançamento com transaction_id gerado
func NewLedgerEntry(walletID string, tipo LedgerTipo, valor, saldoApos Centavos, descricao, referenciaTipo, referenciaID string) *LedgerEntry {
	return &LedgerEntry{
		ID:             uuid.New().String(),
		WalletID:       walletID,
		Tipo:           tipo,
		Valor:          valor,
		SaldoApos:      saldoApos,
		Descricao:      descricao,
		ReferenciaTipo: referenciaTipo,
		ReferenciaID:   referenciaID,
		TransactionID:  uuid.New().String(),
		CreatedAt:      time.Now(),
	}
}

// RechargeStatus representa o ciclo de vida de uma recarga
type RechargeStatus string

const (
	RechargeStatusPendente  RechargeStatus = "PENDENTE"
	RechargeStatusPago      RechargeStatus = "PAGO"
	RechargeStatusCancelado RechargeStatus = "CANCELADO"
	RechargeStatusErro      RechargeStatus = "ERRO"
)

// RechargeRequest representa uma recarga (wallet_recargas) aguardando confirmação do PIX
type RechargeRequest struct {
	ID                string          `json:"id" db:"id"`
	WalletID          string          `json:"wallet_id" db:"wallet_id"`
	Valor             Centavos        `json:"valor" db:"valor"`
	PixID             *string         `json:"pix_id,omitempty" db:"pix_id"`
	Status            RechargeStatus  `json:"status" db:"status"`
	Processado        bool            `json:"processado" db:"processado"`
	Tentativas        int             `json:"tentativas" db:"tentativas"`
	WebhookPayload    json.RawMessage `json:"webhook_payload,omitempty" db:"webhook_payload"`
	WebhookRecebidoEm *time.Time      `json:"webhook_recebido_em,omitempty" db:"webhook_recebido_em"`
	PagoEm            *time.Time      `json:"pago_em,omitempty" db:"pago_em"`
	TransactionID     *string         `json:"transaction_id,omitempty" db:"transaction_id"`
	ErroMensagem      *string         `json:"erro_mensagem,omitempty" db:"erro_mensagem"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// NewRechargeRequest cria uma recarga pendente
func NewRechargeRequest(id, walletID string, valor Centavos) *RechargeRequest {
	now := time.Now()
	return &RechargeRequest{
		ID:        id,
		WalletID:  walletID,
		Valor:     valor,
		Status:    RechargeStatusPendente,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AlreadyCredited indica se a recarga já recebeu crédito e não pode ser creditada de novo
func (r *RechargeRequest) AlreadyCredited() bool {
	return r.Processado || r.Status == RechargeStatusPago
}

func (r *RechargeRequest) IsTerminal() bool {
	return r.Status == RechargeStatusPago || r.Status == RechargeStatusCancelado
}

// Reservation representa uma reserva de mercadoria paga com saldo da caixinha
type Reservation struct {
	ID            string         `json:"id" db:"id"`
	WalletID      string         `json:"wallet_id" db:"wallet_id"`
	ProdutoID     string         `json:"produto_id" db:"produto_id"`
	VariacaoID    *string        `json:"variacao_id,omitempty" db:"variacao_id"`
	Quantidade    int            `json:"quantidade" db:"quantidade"`
	PrecoUnitario Centavos       `json:"preco_unitario" db:"preco_unitario"`
	PrecoTotal    Centavos       `json:"preco_total" db:"preco_total"`
	TransactionID string         `json:"transaction_id" db:"transaction_id"`
	Metadata      map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// FeatureFlag é a opção de ativação da caixinha por loja (UserID vazio) ou por usuário
type FeatureFlag struct {
	Slug    string `json:"slug" db:"slug"`
	UserID  string `json:"user_id" db:"user_id"`
	Enabled bool   `json:"enabled" db:"enabled"`
}
