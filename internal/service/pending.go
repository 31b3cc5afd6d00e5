package service

import (
	"context"

	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
)

// ListPending returns pending transfer records, newest first.
func (s *TransferService) ListPending(ctx context.Context, filter domain.PendingFilter) ([]*domain.PendingTransfer, error) {
	return s.pending.List(ctx, filter)
}

func (s *TransferService) GetPending(ctx context.Context, id string) (*domain.PendingTransfer, error) {
	return s.pending.Get(ctx, id)
}

// LatestPending returns the newest record that is not final yet.
func (s *TransferService) LatestPending(ctx context.Context) (*domain.PendingTransfer, error) {
	records, err := s.pending.List(ctx, domain.PendingFilter{LiveOnly: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewAppError(errors.PendingNotFound, "no pending transfers found")
	}
	return records[0], nil
}

// DiscardPending deletes a record. Records still awaiting approval track a
// payment the bank has accepted, so dropping them requires force.
func (s *TransferService) DiscardPending(ctx context.Context, id string, force bool) error {
	rec, err := s.pending.Get(ctx, id)
	if err != nil {
		return err
	}
	if !rec.Status.Terminal() && !force {
		return errors.NewAppErrorf(errors.InvalidTransition, "pending transfer %s is still %s", id, rec.Status).
			WithDetails("its outcome is unknown; pass --force to discard it anyway")
	}
	if err := s.pending.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("pending_id", id).Str("status", string(rec.Status)).Bool("forced", force).Msg("pending transfer discarded")
	return nil
}
