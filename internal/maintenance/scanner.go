// Package maintenance expires released accounts across the managed
// organizational units.
package maintenance

import (
	"context"
	"iter"

	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/account"
)

// Accounts is the slice of the account manager the scanner needs.
type Accounts interface {
	ListAccounts(ctx context.Context, parent string) iter.Seq2[string, error]
	Describe(ctx context.Context, id string) (account.Item, error)
	Move(ctx context.Context, id string, state account.State) error
}

// Scanner walks every managed unit and moves released, active accounts to
// the expired state. Accounts are visited strictly sequentially.
type Scanner struct {
	accounts Accounts
	units    []string
	logger   *logrus.Logger
}

func NewScanner(accounts Accounts, units []string, logger *logrus.Logger) *Scanner {
	return &Scanner{
		accounts: accounts,
		units:    units,
		logger:   logger,
	}
}

// Run performs one full scan. A failure on one account is logged and does
// not abort the scan of the others.
func (s *Scanner) Run(ctx context.Context) error {
	for _, unit := range s.units {
		for id, err := range s.accounts.ListAccounts(ctx, unit) {
			if err != nil {
				s.logger.WithError(err).Errorf("Unable to list accounts in unit '%s'", unit)
				break
			}
			s.expire(ctx, id)
		}
	}
	return nil
}

func (s *Scanner) expire(ctx context.Context, id string) {
	item, err := s.accounts.Describe(ctx, id)
	if err != nil {
		s.logger.WithError(err).Errorf("Unable to inspect account '%s'", id)
		return
	}

	if !item.IsActive {
		s.logger.Debugf("Ignoring inactive account '%s'", id)
		return
	}
	if item.Tags[account.TagState] != string(account.StateReleased) {
		s.logger.Debugf("Ignoring account '%s' that has not been released", id)
		return
	}

	s.logger.Infof("Expiring account '%s'", id)
	if err := s.accounts.Move(ctx, id, account.StateExpired); err != nil {
		s.logger.WithError(err).Errorf("Unable to expire account '%s'", id)
	}
}
