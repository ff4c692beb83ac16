package main

import (
	"context"
	"errors"
	"log"
	"time"
)

// ReprocessWorker reprocessa periodicamente recargas em ERRO ou presas em PENDENTE
type ReprocessWorker struct {
	webhooks    *WebhookUseCase
	recharges   RechargeRepository
	interval    time.Duration
	maxAttempts int
	staleAfter  time.Duration
	batchSize   int
}

func NewReprocessWorker(webhooks *WebhookUseCase, recharges RechargeRepository, cfg WorkerConfig) *ReprocessWorker {
	return &ReprocessWorker{
		webhooks:    webhooks,
		recharges:   recharges,
		interval:    cfg.ReprocessInterval,
		maxAttempts: cfg.ReprocessMaxAttempts,
		staleAfter:  cfg.PendingStaleAfter,
		batchSize:   cfg.ReprocessBatchSize,
	}
}

// Run executa um ciclo a cada intervalo até o contexto ser cancelado
func (w *ReprocessWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.Printf("[ReprocessWorker] Started | interval=%s | max_attempts=%d", w.interval, w.maxAttempts)

	for {
		select {
		case <-ctx.Done():
			log.Println("[ReprocessWorker] Stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce processa um lote e retorna quantas recargas foram creditadas
func (w *ReprocessWorker) RunOnce(ctx context.Context) int {
	recharges, err := w.recharges.ListRechargesForRetry(ctx, w.maxAttempts, time.Now().Add(-w.staleAfter), w.batchSize)
	if err != nil {
		log.Printf("❌ [ReprocessWorker] Failed to list recharges: %v", err)
		return 0
	}

	creditadas := 0
	for _, rc := range recharges {
		if ctx.Err() != nil {
			break
		}

		result, err := w.webhooks.Reprocess(ctx, rc.ID)
		if errors.Is(err, ErrPaymentLookup) || errors.Is(err, ErrStoreUnavailable) {
			// processador ou banco indisponível: tenta no próximo ciclo
			log.Printf("⚠️ [ReprocessWorker] Dependency unavailable, stopping batch | RecargaID=%s | Error=%v", rc.ID, err)
			break
		}
		if err != nil {
			log.Printf("❌ [ReprocessWorker] RecargaID=%s | Error=%v", rc.ID, err)
			continue
		}
		if result.Resultado == ResultadoCreditado {
			creditadas++
		}
	}

	if len(recharges) > 0 {
		log.Printf("[ReprocessWorker] Batch done | candidatas=%d | creditadas=%d", len(recharges), creditadas)
	}
	return creditadas
}
