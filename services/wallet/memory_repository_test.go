package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memoryStore é um fake transacional em memória dos repositórios.
// mu protege os mapas e é segurado só durante cada operação. O lock de linha
// fica em walletLocks: GetWalletForUpdate dentro de uma transação trava a carteira
// até o Commit/Rollback, como o FOR UPDATE, e carteiras diferentes não se bloqueiam.
type memoryStore struct {
	mu           sync.Mutex
	walletLocks  map[string]*sync.Mutex
	wallets      map[string]*Wallet
	ledger       []LedgerEntry
	recharges    map[string]*RechargeRequest
	reservations map[string]*Reservation
	flags        []FeatureFlag

	// injeção de falhas
	beforeInsertLedger   func(entry *LedgerEntry)
	insertReservationErr error
	featureFlagsErr      error
	featureFlagsCalls    int
	commitErr            error
	rechargeLookupErr    error
	recordWebhookErr     error
	rechargeByIDErr      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		walletLocks:  make(map[string]*sync.Mutex),
		wallets:      make(map[string]*Wallet),
		recharges:    make(map[string]*RechargeRequest),
		reservations: make(map[string]*Reservation),
	}
}

type memoryTx struct {
	store *memoryStore
	locks []*sync.Mutex
	undo  []func()
	done  bool
}

func (t *memoryTx) Commit() error {
	if t.done {
		return errors.New("tx already closed")
	}
	t.store.mu.Lock()
	err := t.store.commitErr
	t.store.mu.Unlock()
	if err != nil {
		t.rollback()
		return err
	}
	t.release()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.rollback()
	return nil
}

func (t *memoryTx) rollback() {
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.release()
}

func (t *memoryTx) release() {
	t.done = true
	for _, l := range t.locks {
		l.Unlock()
	}
	t.locks = nil
}

// with executa fn segurando o mutex dos dados
func (s *memoryStore) with(_ Tx, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *memoryStore) onRollback(tx Tx, undo func()) {
	if t, ok := tx.(*memoryTx); ok {
		t.undo = append(t.undo, undo)
	}
}

// lockWallet trava a linha da carteira para a transação, sem segurar mu durante a espera
func (s *memoryStore) lockWallet(tx Tx, walletID string) {
	t, ok := tx.(*memoryTx)
	if !ok {
		return
	}
	s.mu.Lock()
	l, exists := s.walletLocks[walletID]
	if !exists {
		l = &sync.Mutex{}
		s.walletLocks[walletID] = l
	}
	s.mu.Unlock()

	for _, held := range t.locks {
		if held == l {
			return
		}
	}
	l.Lock()
	t.locks = append(t.locks, l)
}

func (s *memoryStore) BeginTx(ctx context.Context) (Tx, error) {
	return &memoryTx{store: s}, nil
}

func (s *memoryStore) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	return s.GetWalletForUpdate(ctx, nil, walletID)
}

func (s *memoryStore) GetWalletForUpdate(ctx context.Context, tx Tx, walletID string) (*Wallet, error) {
	if tx != nil {
		s.lockWallet(tx, walletID)
	}
	var (
		w   Wallet
		err error
	)
	s.with(tx, func() {
		found, ok := s.wallets[walletID]
		if !ok {
			err = ErrWalletNotFound
			return
		}
		w = *found
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *memoryStore) CreateWalletIfNotExists(ctx context.Context, wallet *Wallet) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[wallet.ID]; ok {
		return false, nil
	}
	w := *wallet
	s.wallets[wallet.ID] = &w
	return true, nil
}

func (s *memoryStore) UpdateWalletStatus(ctx context.Context, walletID string, status WalletStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Status = status
	return nil
}

func (s *memoryStore) UpdateWalletBalance(ctx context.Context, tx Tx, walletID string, saldo Centavos) error {
	var err error
	s.with(tx, func() {
		w, ok := s.wallets[walletID]
		if !ok {
			err = ErrWalletNotFound
			return
		}
		if saldo < 0 {
			err = errors.New("violates check constraint saldo >= 0")
			return
		}
		anterior := w.Saldo
		w.Saldo = saldo
		s.onRollback(tx, func() { w.Saldo = anterior })
	})
	return err
}

func (s *memoryStore) findEntry(referenciaTipo, referenciaID string) *LedgerEntry {
	for i := range s.ledger {
		if s.ledger[i].ReferenciaTipo == referenciaTipo && s.ledger[i].ReferenciaID == referenciaID {
			e := s.ledger[i]
			return &e
		}
	}
	return nil
}

func (s *memoryStore) GetLedgerEntryByReference(ctx context.Context, tx Tx, referenciaTipo, referenciaID string) (*LedgerEntry, error) {
	var entry *LedgerEntry
	s.with(tx, func() {
		entry = s.findEntry(referenciaTipo, referenciaID)
	})
	return entry, nil
}

func (s *memoryStore) InsertLedgerEntry(ctx context.Context, tx Tx, entry *LedgerEntry) error {
	var err error
	s.with(tx, func() {
		if s.beforeInsertLedger != nil {
			s.beforeInsertLedger(entry)
		}
		if s.findEntry(entry.ReferenciaTipo, entry.ReferenciaID) != nil {
			err = ErrDuplicateReference
			return
		}
		s.ledger = append(s.ledger, *entry)
		id := entry.ID
		s.onRollback(tx, func() {
			for i := range s.ledger {
				if s.ledger[i].ID == id {
					s.ledger = append(s.ledger[:i], s.ledger[i+1:]...)
					return
				}
			}
		})
	})
	return err
}

func (s *memoryStore) ListLedgerEntries(ctx context.Context, walletID string, limit, offset int) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].WalletID == walletID {
			entries = append(entries, s.ledger[i])
		}
	}
	if offset >= len(entries) {
		return []LedgerEntry{}, nil
	}
	entries = entries[offset:]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *memoryStore) SumLedger(ctx context.Context, walletID string) (Centavos, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total Centavos
	for _, e := range s.ledger {
		if e.WalletID == walletID {
			total += e.Valor
		}
	}
	return total, nil
}

func (s *memoryStore) GetRechargeByID(ctx context.Context, id string) (*RechargeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rechargeByIDErr != nil {
		return nil, s.rechargeByIDErr
	}
	rc, ok := s.recharges[id]
	if !ok {
		return nil, ErrRechargeNotFound
	}
	c := *rc
	return &c, nil
}

func (s *memoryStore) GetRechargeByPixID(ctx context.Context, pixID string) (*RechargeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rechargeLookupErr != nil {
		return nil, s.rechargeLookupErr
	}
	for _, rc := range s.recharges {
		if rc.PixID != nil && *rc.PixID == pixID {
			c := *rc
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) FindPendingRecharges(ctx context.Context, walletID string, valor Centavos) ([]RechargeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RechargeRequest
	for _, rc := range s.recharges {
		if rc.WalletID == walletID && rc.Status == RechargeStatusPendente && rc.Valor == valor && rc.PixID == nil {
			out = append(out, *rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) RecordWebhook(ctx context.Context, id, pixID string, payload json.RawMessage, recebidoEm time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordWebhookErr != nil {
		return s.recordWebhookErr
	}
	rc, ok := s.recharges[id]
	if !ok || rc.Processado {
		return nil
	}
	if rc.PixID == nil {
		p := pixID
		rc.PixID = &p
	}
	rc.WebhookPayload = payload
	rc.WebhookRecebidoEm = &recebidoEm
	return nil
}

func retryable(rc *RechargeRequest) bool {
	return rc.Status == RechargeStatusPendente || rc.Status == RechargeStatusErro
}

func (s *memoryStore) MarkRechargePaid(ctx context.Context, tx Tx, id, transactionID string, pagoEm time.Time) (bool, error) {
	var updated bool
	s.with(tx, func() {
		rc, ok := s.recharges[id]
		if !ok || !retryable(rc) {
			return
		}
		anterior := *rc
		txID := transactionID
		rc.Status = RechargeStatusPago
		rc.Processado = true
		rc.PagoEm = &pagoEm
		rc.TransactionID = &txID
		rc.ErroMensagem = nil
		updated = true
		s.onRollback(tx, func() { *rc = anterior })
	})
	return updated, nil
}

func (s *memoryStore) MarkRechargeError(ctx context.Context, id, mensagem string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.recharges[id]
	if !ok || rc.Processado || !retryable(rc) {
		return nil
	}
	msg := mensagem
	rc.Status = RechargeStatusErro
	rc.Tentativas++
	rc.ErroMensagem = &msg
	return nil
}

func (s *memoryStore) MarkRechargeCancelled(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.recharges[id]
	if !ok || rc.Processado || !retryable(rc) {
		return false, nil
	}
	rc.Status = RechargeStatusCancelado
	return true, nil
}

func (s *memoryStore) ListRechargesForRetry(ctx context.Context, maxTentativas int, staleBefore time.Time, limit int) ([]RechargeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RechargeRequest
	for _, rc := range s.recharges {
		if rc.Processado || rc.PixID == nil {
			continue
		}
		erro := rc.Status == RechargeStatusErro && rc.Tentativas < maxTentativas
		parado := rc.Status == RechargeStatusPendente && rc.WebhookRecebidoEm != nil && rc.WebhookRecebidoEm.Before(staleBefore)
		if erro || parado {
			out = append(out, *rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) InsertReservation(ctx context.Context, tx Tx, reservation *Reservation) error {
	var err error
	s.with(tx, func() {
		if s.insertReservationErr != nil {
			err = s.insertReservationErr
			return
		}
		if _, ok := s.reservations[reservation.ID]; ok {
			err = fmt.Errorf("reservation %s already exists", reservation.ID)
			return
		}
		r := *reservation
		s.reservations[reservation.ID] = &r
		id := reservation.ID
		s.onRollback(tx, func() { delete(s.reservations, id) })
	})
	return err
}

func (s *memoryStore) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (s *memoryStore) GetFeatureFlags(ctx context.Context, slug, userID string) ([]FeatureFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.featureFlagsCalls++
	if s.featureFlagsErr != nil {
		return nil, s.featureFlagsErr
	}
	var out []FeatureFlag
	for _, f := range s.flags {
		if f.Slug == slug && (f.UserID == "" || f.UserID == userID) {
			out = append(out, f)
		}
	}
	return out, nil
}

// helpers de teste

func (s *memoryStore) ledgerFor(walletID string) []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LedgerEntry
	for _, e := range s.ledger {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	return out
}

func (s *memoryStore) reservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

func (s *memoryStore) addRecharge(rc *RechargeRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recharges[rc.ID] = rc
}

func (s *memoryStore) setFlag(slug, userID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = append(s.flags, FeatureFlag{Slug: slug, UserID: userID, Enabled: enabled})
}

// seedWallet cria a carteira e aplica o saldo inicial como ajuste manual,
// mantendo a soma do extrato igual ao saldo
func seedWallet(t *testing.T, store *memoryStore, ledger *LedgerUseCase, walletID string, saldo Centavos) {
	t.Helper()
	_, err := ledger.EnsureWallet(context.Background(), walletID, "owner-"+walletID, OwnerTipoRevendedor)
	require.NoError(t, err)
	if saldo == 0 {
		return
	}
	_, err = ledger.Mutate(context.Background(), MutationRequest{
		WalletID:       walletID,
		Delta:          saldo,
		Tipo:           LedgerTipoAjusteManual,
		Descricao:      "saldo inicial",
		ReferenciaTipo: "seed",
		ReferenciaID:   walletID,
	})
	require.NoError(t, err)
}

// recordingPublisher guarda os eventos publicados
type recordingPublisher struct {
	mu     sync.Mutex
	events []WalletEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event WalletEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofType(eventType string) []WalletEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []WalletEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeLookup responde consultas de pagamento a partir de um mapa
type fakeLookup struct {
	mu       sync.Mutex
	payments map[string]*PaymentInfo
	err      error
	calls    int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{payments: make(map[string]*PaymentInfo)}
}

func (f *fakeLookup) GetPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	c := *p
	return &c, nil
}

func (f *fakeLookup) set(p PaymentInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[p.ID] = &p
}
