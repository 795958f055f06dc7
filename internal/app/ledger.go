package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/escrow-service/internal/domain"
	"github.com/transfa/escrow-service/internal/store"
)

// posting is one leg of a ledger movement.
type posting struct {
	account     domain.LedgerAccount
	entry       domain.EntryType
	amount      int64
	earnings    bool
	description string
	metadata    map[string]string
}

func debit(account domain.LedgerAccount, amount int64, description string) posting {
	return posting{account: account, entry: domain.EntryDebit, amount: amount, description: description}
}

func credit(account domain.LedgerAccount, amount int64, description string) posting {
	return posting{account: account, entry: domain.EntryCredit, amount: amount, description: description}
}

func (p posting) asEarnings() posting {
	p.earnings = true
	return p
}

func (p posting) with(metadata map[string]string) posting {
	p.metadata = metadata
	return p
}

// post applies postings inside tx. Every touched balance is locked up front in
// key order so concurrent movements always acquire rows in the same sequence.
// A debit that would overdraw an account fails the whole movement.
func (s *Service) post(ctx context.Context, tx store.Tx, reference string, postings ...posting) (map[string]*domain.Balance, error) {
	accounts := make(map[string]domain.LedgerAccount)
	for _, p := range postings {
		accounts[p.account.Key()] = p.account
	}
	keys := make([]string, 0, len(accounts))
	for key := range accounts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	balances := make(map[string]*domain.Balance, len(keys))
	for _, key := range keys {
		balance, err := tx.LockBalance(ctx, accounts[key], s.settings.Currency)
		if err != nil {
			return nil, err
		}
		balances[key] = balance
	}

	now := s.clock()
	for _, p := range postings {
		if p.amount == 0 {
			continue
		}
		if p.amount < 0 {
			return nil, fmt.Errorf("ledger posting amount must be positive: account=%s amount=%d", p.account.Key(), p.amount)
		}

		balance := balances[p.account.Key()]
		switch p.entry {
		case domain.EntryDebit:
			if balance.AvailableBalance < p.amount {
				return nil, &InsufficientBalanceError{Required: p.amount, Available: balance.AvailableBalance, Currency: s.settings.Currency}
			}
			balance.AvailableBalance -= p.amount
		case domain.EntryCredit:
			balance.AvailableBalance += p.amount
			if p.earnings {
				balance.TotalEarnings += p.amount
			}
		}
		balance.UpdatedAt = now

		entry := &domain.Transaction{
			ID:          uuid.New(),
			Account:     p.account,
			Type:        p.entry,
			Amount:      p.amount,
			Status:      "completed",
			Description: p.description,
			Reference:   reference,
			Metadata:    p.metadata,
			CreatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, entry); err != nil {
			return nil, err
		}
	}

	for _, key := range keys {
		if err := tx.SaveBalance(ctx, balances[key]); err != nil {
			return nil, err
		}
	}
	return balances, nil
}

// CreditWallet records a deposit captured upstream into a user's wallet.
func (s *Service) CreditWallet(ctx context.Context, userID uuid.UUID, req domain.WalletCreditRequest) (*domain.WalletBalance, error) {
	if req.Amount <= 0 {
		return nil, invalidField("amount", "must be greater than zero")
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return nil, invalidField("reference", "is required")
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Wallet top-up"
	}

	account := domain.UserAccount(userID)
	var balance *domain.Balance
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		balances, err := s.post(ctx, tx, reference, credit(account, req.Amount, description))
		if err != nil {
			return err
		}
		balance = balances[account.Key()]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	log.Printf("level=info component=service msg=\"wallet credited\" user_id=%s amount=%d reference=%s", userID, req.Amount, reference)
	return &domain.WalletBalance{
		AvailableBalance: balance.AvailableBalance,
		TotalEarnings:    balance.TotalEarnings,
		Currency:         balance.Currency,
	}, nil
}
