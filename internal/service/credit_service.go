package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runrevr/imagerefresh/internal/models"
	"github.com/runrevr/imagerefresh/internal/repository"
	"github.com/runrevr/imagerefresh/internal/telemetry"
)

var ErrInsufficientCredit = errors.New("insufficient credits")

// CreditService is the ledger: it reports availability (with the lazy monthly
// free-credit reset) and performs the debit that only ever follows a confirmed
// successful transformation.
type CreditService struct {
	credits *repository.CreditRepository
	log     *slog.Logger
	metrics *telemetry.Metrics
}

func NewCreditService(credits *repository.CreditRepository, log *slog.Logger, metrics *telemetry.Metrics) *CreditService {
	return &CreditService{credits: credits, log: log, metrics: metrics}
}

// CheckAvailable reports the identity's balance. When the last free credit was
// consumed in a prior calendar month the flag is reset before reporting. The
// reset is cosmetic here; the debit path re-checks under a row lock.
func (s *CreditService) CheckAvailable(ctx context.Context, identityID int64) (models.Availability, error) {
	balance, err := s.credits.Get(ctx, identityID)
	if err != nil {
		return models.Availability{}, fmt.Errorf("get balance: %w", err)
	}
	if balance == nil {
		// Balance rows are created with the identity; a hole here means the
		// row creation was lost and reconciliation should look at it.
		s.log.Warn("identity has no credit balance row", "identity", identityID)
		return models.Availability{}, nil
	}

	now := time.Now().UTC()
	if balance.FreeCreditUsed && balance.LastFreeCreditAt != nil && !repository.SameCalendarMonth(*balance.LastFreeCreditAt, now) {
		if err := s.credits.ResetFreeCredit(ctx, identityID, *balance.LastFreeCreditAt); err != nil {
			s.log.Error("monthly free credit reset failed", "identity", identityID, "err", err)
		} else {
			balance.FreeCreditUsed = false
		}
	}

	avail := models.Availability{
		HasFreeCredit: !balance.FreeCreditUsed,
		PaidCredits:   balance.PaidCredits,
	}
	avail.Total = avail.PaidCredits
	if avail.HasFreeCredit {
		avail.Total++
	}
	return avail, nil
}

// Debit consumes exactly one credit, free before paid, inside a single
// transaction. Returns ErrInsufficientCredit when nothing is available.
func (s *CreditService) Debit(ctx context.Context, identityID int64) (models.CreditType, error) {
	creditType, ok, err := s.credits.Debit(ctx, identityID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("debit: %w", err)
	}
	if !ok {
		return "", ErrInsufficientCredit
	}
	s.metrics.CreditsDebited.WithLabelValues(string(creditType)).Inc()
	return creditType, nil
}

// Grant adjusts the paid balance; the admin reconciliation path.
func (s *CreditService) Grant(ctx context.Context, identityID int64, delta int) error {
	if err := s.credits.AddPaidCredits(ctx, identityID, delta); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	s.log.Info("paid credits adjusted", "identity", identityID, "delta", delta)
	return nil
}
