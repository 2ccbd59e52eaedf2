package service

import (
	"context"

	"commerce-service/internal/apperr"
	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// PointService is the point ledger. Balances change only under the row
// lock and every change appends a history entry.
type PointService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewPointService creates a new point service
func NewPointService(s *store.Store) *PointService {
	return &PointService{store: s, logger: util.GetLogger()}
}

// Debit takes amount from the user's balance inside tx. A debit already
// recorded for ref is a no-op.
func (s *PointService) Debit(ctx context.Context, tx *store.Store, userID, amount int64, ref models.PointReference) error {
	if amount <= 0 {
		return apperr.Validation("debit amount must be positive: %d", amount)
	}

	point, err := tx.GetPointForUpdate(ctx, userID)
	if err != nil {
		return err
	}

	done, err := tx.HasPointHistory(ctx, userID, ref, models.PointTransactionUse)
	if err != nil {
		return err
	}
	if done {
		util.PointDebitsTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("Point debit already applied",
			zap.Int64("user_id", userID),
			zap.String("ref_type", ref.Type),
			zap.Int64("ref_id", ref.ID))
		return nil
	}

	if point.Balance < amount {
		util.PointDebitsTotal.WithLabelValues("not_enough").Inc()
		return apperr.NotEnoughPoints(point.Balance, amount)
	}

	balance := point.Balance - amount
	if err := tx.UpdatePointBalance(ctx, userID, balance); err != nil {
		return err
	}
	if _, err := tx.InsertPointHistory(ctx, &models.PointHistory{
		UserID:          userID,
		Amount:          amount,
		BalanceAfter:    balance,
		TransactionType: models.PointTransactionUse,
		ReferenceType:   ref.Type,
		ReferenceID:     ref.ID,
	}); err != nil {
		return err
	}

	util.PointDebitsTotal.WithLabelValues("applied").Inc()
	return nil
}

// Credit adds amount to the user's balance inside tx. A credit already
// recorded for ref is a no-op, which keeps refunds single.
func (s *PointService) Credit(ctx context.Context, tx *store.Store, userID, amount int64, ref models.PointReference) error {
	if amount <= 0 {
		return apperr.Validation("credit amount must be positive: %d", amount)
	}

	point, err := tx.GetPointForUpdate(ctx, userID)
	if err != nil {
		return err
	}

	done, err := tx.HasPointHistory(ctx, userID, ref, models.PointTransactionCharge)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	balance := point.Balance + amount
	if err := tx.UpdatePointBalance(ctx, userID, balance); err != nil {
		return err
	}
	_, err = tx.InsertPointHistory(ctx, &models.PointHistory{
		UserID:          userID,
		Amount:          amount,
		BalanceAfter:    balance,
		TransactionType: models.PointTransactionCharge,
		ReferenceType:   ref.Type,
		ReferenceID:     ref.ID,
	})
	return err
}

// Charge tops up a user's points, opening the account on first use.
// chargeID identifies the request so a retried charge is applied once.
func (s *PointService) Charge(ctx context.Context, userID, amount, chargeID int64) (int64, error) {
	var balance int64
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.CreatePoint(ctx, userID); err != nil {
			return err
		}
		ref := models.PointReference{Type: models.PointReferenceManual, ID: chargeID}
		if err := s.Credit(ctx, tx, userID, amount, ref); err != nil {
			return err
		}
		point, err := tx.GetPoint(ctx, userID)
		if err != nil {
			return err
		}
		balance = point.Balance
		return nil
	})
	return balance, err
}

// Balance returns the user's current balance
func (s *PointService) Balance(ctx context.Context, userID int64) (*models.Point, error) {
	return s.store.GetPoint(ctx, userID)
}

// History returns the user's most recent ledger entries
func (s *PointService) History(ctx context.Context, userID int64) ([]models.PointHistory, error) {
	return s.store.GetPointHistories(ctx, userID, defaultHistoryLimit)
}
