package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"
)

// FCMNotifier envia push para o tópico da carteira ("wallet_<id>")
type FCMNotifier struct {
	client *messaging.Client
}

// NewFCMNotifier inicializa o Firebase a partir do arquivo de credenciais
func NewFCMNotifier(ctx context.Context, credentialsFile string) (*FCMNotifier, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	log.Println("🔥 Firebase Cloud Messaging Ready!")
	return &FCMNotifier{client: client}, nil
}

// Notify envia a mensagem correspondente ao evento
func (n *FCMNotifier) Notify(ctx context.Context, event WalletEvent) error {
	message := buildFCMMessage(event)
	if message == nil {
		return nil
	}

	if _, err := n.client.Send(ctx, message); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

// walletTopic normaliza o ID da carteira para o formato aceito em tópicos FCM
func walletTopic(walletID string) string {
	var b strings.Builder
	b.WriteString("wallet_")
	for _, r := range walletID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.', r == '~':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func buildFCMMessage(event WalletEvent) *messaging.Message {
	var title, body string
	switch event.Type {
	case EventRecargaPaga:
		title = "Recarga confirmada! ✅"
		body = fmt.Sprintf("%s foram adicionados à sua caixinha. Saldo atual: %s.", FormatBRL(event.Valor), FormatBRL(event.NovoSaldo))
	case EventReservaCriada:
		title = "Reserva realizada 🛍️"
		body = fmt.Sprintf("Reservamos sua peça por %s. Saldo restante: %s.", FormatBRL(-event.Valor), FormatBRL(event.NovoSaldo))
	case EventRecargaCancelada:
		title = "Recarga não concluída ❌"
		body = "O pagamento da sua recarga não foi aprovado."
	default:
		return nil
	}

	return &messaging.Message{
		Topic: walletTopic(event.WalletID),
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"type":          event.Type,
			"wallet_id":     event.WalletID,
			"referencia_id": event.ReferenciaID,
		},
	}
}
