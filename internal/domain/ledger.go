/**
 * @description
 * Ledger models: accounts, balances and the append-only transaction log.
 *
 * @notes
 * - System accounts live in their own namespace so they can never collide
 *   with a user id.
 * - For every account, AvailableBalance equals the sum of its credits minus
 *   the sum of its debits.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountType separates user wallets from platform-owned accounts.
type AccountType string

const (
	AccountTypeUser   AccountType = "user"
	AccountTypeSystem AccountType = "system"
)

const (
	SystemAccountPlatformFees  = "platform_fees"
	SystemAccountEscrowHolding = "escrow_holding"
)

// LedgerAccount identifies one balance row.
type LedgerAccount struct {
	Type AccountType `json:"type"`
	ID   string      `json:"id"`
}

// UserAccount returns the wallet account of a user.
func UserAccount(userID uuid.UUID) LedgerAccount {
	return LedgerAccount{Type: AccountTypeUser, ID: userID.String()}
}

// PlatformFeeAccount returns the account that accrues platform commission.
func PlatformFeeAccount() LedgerAccount {
	return LedgerAccount{Type: AccountTypeSystem, ID: SystemAccountPlatformFees}
}

// EscrowHoldingAccount returns the account that holds captured escrow.
func EscrowHoldingAccount() LedgerAccount {
	return LedgerAccount{Type: AccountTypeSystem, ID: SystemAccountEscrowHolding}
}

// Key is a stable string form used for map keys and lock ordering.
func (a LedgerAccount) Key() string {
	return string(a.Type) + ":" + a.ID
}

// Balance is the current state of a ledger account.
type Balance struct {
	Account          LedgerAccount `json:"account"`
	AvailableBalance int64         `json:"availableBalance"` // in cents
	TotalEarnings    int64         `json:"totalEarnings"`    // in cents
	Currency         string        `json:"currency"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// EntryType is the direction of a ledger entry.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// Transaction is one immutable ledger entry.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	Account     LedgerAccount     `json:"account"`
	Type        EntryType         `json:"type"`
	Amount      int64             `json:"amount"` // in cents, always positive
	Status      string            `json:"status"`
	Description string            `json:"description"`
	Reference   string            `json:"reference"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Signed returns the entry amount with its direction applied.
func (t Transaction) Signed() int64 {
	if t.Type == EntryDebit {
		return -t.Amount
	}
	return t.Amount
}

// WalletBalance is the response for the balance endpoint.
type WalletBalance struct {
	AvailableBalance int64  `json:"availableBalance"`
	TotalEarnings    int64  `json:"totalEarnings"`
	Currency         string `json:"currency"`
}

// WalletCreditRequest is the DTO for internal wallet deposits.
type WalletCreditRequest struct {
	Amount      int64  `json:"amount"` // in cents
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

// ExternalPaymentRequest is the DTO for confirming a gateway-captured payment.
type ExternalPaymentRequest struct {
	Provider          string `json:"provider"`
	ProviderReference string `json:"providerReference"`
}
