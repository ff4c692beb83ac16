package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/shopspring/decimal"
)

// PaymentStatus é o status autoritativo devolvido pelo processador de pagamentos
type PaymentStatus string

const (
	PaymentStatusApproved    PaymentStatus = "approved"
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusInProcess   PaymentStatus = "in_process"
	PaymentStatusAuthorized  PaymentStatus = "authorized"
	PaymentStatusRejected    PaymentStatus = "rejected"
	PaymentStatusCancelled   PaymentStatus = "cancelled"
	PaymentStatusRefunded    PaymentStatus = "refunded"
	PaymentStatusChargedBack PaymentStatus = "charged_back"
)

// ErrPaymentNotFound indica que o processador não conhece o pagamento
var ErrPaymentNotFound = errors.New("payment not found at provider")

// PaymentInfo é a visão mínima de um pagamento usada para decidir o crédito
type PaymentInfo struct {
	ID         string
	Status     PaymentStatus
	Amount     Centavos
	WalletID   string
	RechargeID string
}

// PaymentLookup busca o pagamento pelo ID no processador
type PaymentLookup interface {
	GetPayment(ctx context.Context, paymentID string) (*PaymentInfo, error)
}

// MercadoPagoClient consulta GET /v1/payments/{id}
type MercadoPagoClient struct {
	client *resty.Client
}

// NewMercadoPagoClient cria o cliente com timeout limitado
func NewMercadoPagoClient(baseURL, accessToken string, timeout time.Duration) *MercadoPagoClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(accessToken).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &MercadoPagoClient{client: client}
}

type mercadoPagoPayment struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	ExternalReference string          `json:"external_reference"`
	Metadata          struct {
		WalletID  string `json:"wallet_id"`
		RecargaID string `json:"recarga_id"`
	} `json:"metadata"`
}

// GetPayment busca o pagamento no Mercado Pago
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", paymentID).
		SetResult(&mercadoPagoPayment{}).
		Get("/v1/payments/{id}")
	if err != nil {
		return nil, fmt.Errorf("mercadopago request: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrPaymentNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("mercadopago returned status %d", resp.StatusCode())
	}

	payment := resp.Result().(*mercadoPagoPayment)
	amount, err := CentavosFromDecimal(payment.TransactionAmount)
	if err != nil {
		return nil, fmt.Errorf("mercadopago transaction_amount: %w", err)
	}

	rechargeID := payment.ExternalReference
	if rechargeID == "" {
		rechargeID = payment.Metadata.RecargaID
	}

	id := payment.ID.String()
	if id == "" {
		id = paymentID
	}

	return &PaymentInfo{
		ID:         id,
		Status:     PaymentStatus(strings.ToLower(payment.Status)),
		Amount:     amount,
		WalletID:   payment.Metadata.WalletID,
		RechargeID: rechargeID,
	}, nil
}

// MidtransOrderPrefix é o prefixo do order_id gerado na criação da recarga
const MidtransOrderPrefix = "RECARGA-"

// MidtransClient consulta o status de uma transação pelo order_id
type MidtransClient struct {
	client coreapi.Client
}

// NewMidtransClient cria o cliente da Core API com o mesmo limite de tempo do Mercado Pago
func NewMidtransClient(serverKey string, production bool, timeout time.Duration) *MidtransClient {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	var c coreapi.Client
	c.New(serverKey, env)
	// o cliente padrão do SDK é global e tem timeout próprio
	c.HttpClient = &midtrans.HttpClientImplementation{
		HttpClient: &http.Client{Timeout: timeout},
		Logger:     midtrans.GetDefaultLogger(env),
	}
	return &MidtransClient{client: c}
}

type midtransResult struct {
	resp *coreapi.TransactionStatusResponse
	err  *midtrans.Error
}

// GetPayment busca o status da transação; o SDK não aceita contexto, então o tempo é limitado aqui
func (c *MidtransClient) GetPayment(ctx context.Context, orderID string) (*PaymentInfo, error) {
	done := make(chan midtransResult, 1)
	go func() {
		resp, mErr := c.client.CheckTransaction(orderID)
		done <- midtransResult{resp: resp, err: mErr}
	}()

	var res midtransResult
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("midtrans request: %w", ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		if res.err.StatusCode == http.StatusNotFound {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("midtrans request: %s", res.err.GetMessage())
	}
	if res.resp == nil {
		return nil, fmt.Errorf("midtrans returned empty response for %s", orderID)
	}

	gross, err := decimal.NewFromString(res.resp.GrossAmount)
	if err != nil {
		return nil, fmt.Errorf("midtrans gross_amount: %w", err)
	}
	amount, err := CentavosFromDecimal(gross)
	if err != nil {
		return nil, fmt.Errorf("midtrans gross_amount: %w", err)
	}

	return &PaymentInfo{
		ID:         orderID,
		Status:     mapMidtransStatus(res.resp.TransactionStatus, res.resp.FraudStatus),
		Amount:     amount,
		RechargeID: strings.TrimPrefix(res.resp.OrderID, MidtransOrderPrefix),
	}, nil
}

// mapMidtransStatus traduz o status da Midtrans para o vocabulário do processador
func mapMidtransStatus(transactionStatus, fraudStatus string) PaymentStatus {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "challenge" {
			return PaymentStatusInProcess
		}
		return PaymentStatusApproved
	case "settlement":
		return PaymentStatusApproved
	case "pending":
		return PaymentStatusPending
	case "authorize":
		return PaymentStatusAuthorized
	case "deny", "failure":
		return PaymentStatusRejected
	case "cancel", "expire":
		return PaymentStatusCancelled
	case "refund", "partial_refund":
		return PaymentStatusRefunded
	case "chargeback", "partial_chargeback":
		return PaymentStatusChargedBack
	default:
		return PaymentStatus(transactionStatus)
	}
}
