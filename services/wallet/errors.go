package main

import "fmt"

// WalletError é o erro de regra de negócio da caixinha
type WalletError struct {
	Code    string
	Message string
}

func (e *WalletError) Error() string {
	return e.Message
}

// Erros customizados
var (
	ErrWalletNotFound      = &WalletError{Code: "wallet_not_found", Message: "wallet not found"}
	ErrWalletBlocked       = &WalletError{Code: "wallet_blocked", Message: "wallet is blocked"}
	ErrInsufficientBalance = &WalletError{Code: "insufficient_balance", Message: "insufficient balance"}
	ErrInvalidInput        = &WalletError{Code: "invalid_input", Message: "invalid input"}
	ErrFeatureDisabled     = &WalletError{Code: "feature_disabled", Message: "wallet feature disabled"}
	ErrReferenceConflict   = &WalletError{Code: "reference_conflict", Message: "reference already used by another wallet"}
	ErrRechargeNotFound    = &WalletError{Code: "recharge_not_found", Message: "recharge not found"}
	ErrMalformedPayload    = &WalletError{Code: "malformed_payload", Message: "malformed webhook payload"}
	ErrPaymentLookup       = &WalletError{Code: "payment_lookup_failed", Message: "payment lookup failed"}
	ErrStoreUnavailable    = &WalletError{Code: "store_unavailable", Message: "wallet store unavailable"}
	ErrDuplicateReference  = &WalletError{Code: "duplicate_reference", Message: "duplicate ledger reference"}
)

// InsufficientBalanceError carrega quanto falta para completar o débito
type InsufficientBalanceError struct {
	Saldo     Centavos
	Shortfall Centavos
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: saldo=%s, faltam=%s", e.Saldo, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// invalidInput cria um erro de entrada que ainda satisfaz errors.Is(err, ErrInvalidInput)
func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
