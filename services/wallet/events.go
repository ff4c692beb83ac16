package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tipos de evento de domínio
const (
	EventRecargaPaga      = "recarga.paga"
	EventReservaCriada    = "reserva.criada"
	EventRecargaErro      = "recarga.erro"
	EventRecargaCancelada = "recarga.cancelada"
)

// WalletEvent é o evento emitido após uma operação concluída
type WalletEvent struct {
	Type          string    `json:"type"`
	WalletID      string    `json:"wallet_id"`
	ReferenciaID  string    `json:"referencia_id"`
	Valor         Centavos  `json:"valor"`
	NovoSaldo     Centavos  `json:"novo_saldo"`
	TransactionID string    `json:"transaction_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EventPublisher publica eventos sem bloquear o caminho transacional
type EventPublisher interface {
	Publish(ctx context.Context, event WalletEvent)
}

// NoopEventPublisher descarta os eventos
type NoopEventPublisher struct{}

func (NoopEventPublisher) Publish(context.Context, WalletEvent) {}

// RedisEventPublisher enfileira eventos em memória e publica no canal Redis em background
type RedisEventPublisher struct {
	client  *redis.Client
	channel string
	queue   chan WalletEvent
}

// NewRedisEventPublisher cria o publisher; Run precisa estar rodando para esvaziar a fila
func NewRedisEventPublisher(client *redis.Client, channel string, buffer int) *RedisEventPublisher {
	return &RedisEventPublisher{
		client:  client,
		channel: channel,
		queue:   make(chan WalletEvent, buffer),
	}
}

// Publish nunca bloqueia: com a fila cheia o evento é descartado
func (p *RedisEventPublisher) Publish(_ context.Context, event WalletEvent) {
	select {
	case p.queue <- event:
	default:
		log.Printf("⚠️ [EVENTS] Fila cheia, evento descartado | Type=%s | WalletID=%s", event.Type, event.WalletID)
	}
}

// Run publica os eventos enfileirados até o contexto ser cancelado
func (p *RedisEventPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.queue:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("❌ [EVENTS] Failed to marshal event: %v", err)
				continue
			}

			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := p.client.Publish(pubCtx, p.channel, data).Err(); err != nil {
				log.Printf("❌ [EVENTS] Failed to publish event to Redis: %v", err)
			}
			cancel()
		}
	}
}

// Notifier entrega o evento ao dono da carteira (melhor esforço)
type Notifier interface {
	Notify(ctx context.Context, event WalletEvent) error
}

// LogNotifier apenas registra o evento no log
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event WalletEvent) error {
	log.Printf("📣 [NOTIFY] %s | WalletID=%s | Valor=%s | NovoSaldo=%s",
		event.Type, event.WalletID, event.Valor, event.NovoSaldo)
	return nil
}

// NotificationWorker consome o canal de eventos e repassa ao Notifier
type NotificationWorker struct {
	client   *redis.Client
	channel  string
	notifier Notifier
}

func NewNotificationWorker(client *redis.Client, channel string, notifier Notifier) *NotificationWorker {
	return &NotificationWorker{
		client:   client,
		channel:  channel,
		notifier: notifier,
	}
}

// Run escuta o canal até o contexto ser cancelado
func (w *NotificationWorker) Run(ctx context.Context) {
	sub := w.client.Subscribe(ctx, w.channel)
	defer sub.Close()

	log.Printf("[NotificationWorker] Listening for wallet events on %q...", w.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (w *NotificationWorker) handle(ctx context.Context, payload []byte) {
	var event WalletEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[NotificationWorker] Failed to parse event: %v", err)
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := w.notifier.Notify(notifyCtx, event); err != nil {
		log.Printf("[NotificationWorker] Notify error | Type=%s | WalletID=%s | Error=%v", event.Type, event.WalletID, err)
	}
}
