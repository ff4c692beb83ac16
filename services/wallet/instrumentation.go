package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "wallet-service"

// StartLedgerSpan cria um span para uma mutação de saldo
func StartLedgerSpan(ctx context.Context, operationName string, req MutationRequest) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ledger."+operationName)

	span.SetAttributes(
		attribute.String("wallet.id", req.WalletID),
		attribute.String("ledger.tipo", string(req.Tipo)),
		attribute.Int64("ledger.delta", int64(req.Delta)),
		attribute.String("ledger.referencia", req.ReferenciaTipo+":"+req.ReferenciaID),
		attribute.String("component", "wallet-ledger"),
	)

	return ctx, span
}

// StartWebhookSpan cria um span para o processamento de uma notificação de pagamento
func StartWebhookSpan(ctx context.Context, operationName string, paymentID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "webhook."+operationName)

	span.SetAttributes(
		attribute.String("payment.id", paymentID),
		attribute.String("component", "wallet-webhook"),
	)

	return ctx, span
}

// StartReservationSpan cria um span para uma reserva
func StartReservationSpan(ctx context.Context, walletID, produtoID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "reservation.reserve")

	span.SetAttributes(
		attribute.String("wallet.id", walletID),
		attribute.String("produto.id", produtoID),
		attribute.String("component", "wallet-reservation"),
	)

	return ctx, span
}
