package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/ledger"
	"poscore/backend/internal/store"
	"poscore/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, sess domain.Session, req domain.OpenShiftRequest) (shift domain.CashShift, err error) {
	defer func() { s.observe("open_shift", err) }()

	sess, err = s.registerSession(sess)
	if err != nil {
		return domain.CashShift{}, err
	}
	if err := validateRequest(req); err != nil {
		return domain.CashShift{}, err
	}

	now := time.Now().UTC()
	shift = domain.CashShift{
		ID:         xid.New("shift"),
		StoreID:    sess.StoreID,
		RegisterID: sess.RegisterID,
		OpenedBy:   sess.UserID,
		OpenedAt:   now,
		Status:     domain.ShiftStatusOpen,
		Meta:       domain.ShiftMeta{OpeningNote: req.Note},
	}
	counts, err := ledger.BuildCounts(shift.ID, domain.CashCountOpening, req.Counts, now)
	if err != nil {
		return domain.CashShift{}, err
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		open, err := tx.HasOpenShift(ctx, sess.StoreID, sess.RegisterID)
		if err != nil {
			return err
		}
		if open {
			return store.Conflict(store.CodeShiftAlreadyOpen, "a shift is already open for this register",
				map[string]any{"register_id": sess.RegisterID})
		}
		if err := tx.InsertShift(ctx, shift); err != nil {
			return err
		}
		for _, count := range counts {
			if err := tx.InsertCashCount(ctx, count); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.CashShift{}, err
	}

	s.logAudit(ctx, sess, "shift_open", "shift", shift.ID, fmt.Sprintf("register=%s,currencies=%d", shift.RegisterID, len(counts)))
	return shift, nil
}

// RecordClosingCount stores the closing counts of an open shift without
// closing it. Submitting again replaces the earlier counts. The returned
// reconciliation is a preview.
func (s *Service) RecordClosingCount(ctx context.Context, sess domain.Session, req domain.CloseShiftRequest) (rec map[string]domain.CurrencyReconciliation, err error) {
	defer func() { s.observe("record_closing_count", err) }()

	sess, err = s.session(sess)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	counts, err := ledger.BuildCounts(req.ShiftID, domain.CashCountClosing, req.Counts, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		shift, err := s.lockOpenShift(ctx, tx, sess, req.ShiftID)
		if err != nil {
			return err
		}
		if err := replaceCounts(ctx, tx, shift.ID, domain.CashCountClosing, counts); err != nil {
			return err
		}
		rec, err = reconcileShift(ctx, tx, shift.ID, counts, sess.BaseCurrency)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CloseShift reconciles and closes an open shift. Counts in req replace any
// closing counts recorded earlier; an empty payload closes with the stored ones.
func (s *Service) CloseShift(ctx context.Context, sess domain.Session, req domain.CloseShiftRequest) (shift domain.CashShift, err error) {
	defer func() { s.observe("close_shift", err) }()

	sess, err = s.session(sess)
	if err != nil {
		return domain.CashShift{}, err
	}
	if err := validateRequest(req); err != nil {
		return domain.CashShift{}, err
	}
	now := time.Now().UTC()
	counts, err := ledger.BuildCounts(req.ShiftID, domain.CashCountClosing, req.Counts, now)
	if err != nil {
		return domain.CashShift{}, err
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := s.lockOpenShift(ctx, tx, sess, req.ShiftID)
		if err != nil {
			return err
		}
		shift = *locked

		if len(counts) > 0 {
			if err := replaceCounts(ctx, tx, shift.ID, domain.CashCountClosing, counts); err != nil {
				return err
			}
		} else {
			if counts, err = tx.ListCashCounts(ctx, shift.ID, domain.CashCountClosing); err != nil {
				return err
			}
		}

		rec, err := reconcileShift(ctx, tx, shift.ID, counts, sess.BaseCurrency)
		if err != nil {
			return err
		}
		shift.Status = domain.ShiftStatusClosed
		shift.ClosedBy = sess.UserID
		shift.ClosedAt = &now
		shift.Meta.ClosingNote = req.Note
		shift.Meta.Reconciliation = rec
		return tx.UpdateShift(ctx, shift)
	})
	if err != nil {
		return domain.CashShift{}, err
	}

	for _, currency := range ledger.Currencies(shift.Meta.Reconciliation) {
		variance := shift.Meta.Reconciliation[currency].Variance
		s.metrics.ShiftVariance(currency, variance.Abs().InexactFloat64())
		if !variance.IsZero() {
			s.logger.WithField("shift_id", shift.ID).WithField("currency", currency).
				WithField("variance", variance.StringFixed(2)).Info("shift closed with cash variance")
		}
	}
	s.logAudit(ctx, sess, "shift_close", "shift", shift.ID, fmt.Sprintf("register=%s,currencies=%d", shift.RegisterID, len(shift.Meta.Reconciliation)))
	return shift, nil
}

func (s *Service) RecordCashMovement(ctx context.Context, sess domain.Session, req domain.CashMovementRequest) (movement domain.CashMovement, err error) {
	defer func() { s.observe("record_cash_movement", err) }()

	sess, err = s.session(sess)
	if err != nil {
		return domain.CashMovement{}, err
	}
	if err := validateRequest(req); err != nil {
		return domain.CashMovement{}, err
	}
	if err := ledger.ValidateMovement(req.Direction, req.Amount); err != nil {
		return domain.CashMovement{}, err
	}

	source := domain.SourceRef{Kind: domain.SourceManual}
	if req.Source != nil && req.Source.Kind != "" {
		source = *req.Source
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		shift, err := tx.LockShift(ctx, req.ShiftID)
		if err != nil {
			return err
		}
		if shift.StoreID != sess.StoreID {
			return store.NotFound("shift", req.ShiftID)
		}
		movement, err = ledger.RecordMovement(ctx, tx, *shift, domain.CashMovement{
			Direction: req.Direction,
			Currency:  normalizeCurrency(req.Currency, sess.BaseCurrency),
			Amount:    req.Amount,
			Reason:    req.Reason,
			Reference: req.Reference,
			Source:    source,
			CreatedBy: sess.UserID,
		})
		return err
	})
	if err != nil {
		return domain.CashMovement{}, err
	}

	s.logAudit(ctx, sess, "cash_movement", "shift", movement.ShiftID,
		fmt.Sprintf("direction=%s,currency=%s,amount=%s", movement.Direction, movement.Currency, movement.Amount.StringFixed(2)))
	return movement, nil
}

func (s *Service) GetShift(ctx context.Context, sess domain.Session, shiftID string) (*domain.CashShift, error) {
	sess, err := s.session(sess)
	if err != nil {
		return nil, err
	}
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if shift.StoreID != sess.StoreID {
		return nil, store.NotFound("shift", shiftID)
	}
	return shift, nil
}

func (s *Service) GetActiveShift(ctx context.Context, sess domain.Session) (*domain.CashShift, error) {
	sess, err := s.registerSession(sess)
	if err != nil {
		return nil, err
	}
	return s.repo.GetActiveShift(ctx, sess.StoreID, sess.RegisterID)
}

func (s *Service) lockOpenShift(ctx context.Context, tx store.Tx, sess domain.Session, shiftID string) (*domain.CashShift, error) {
	shift, err := tx.LockShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if shift.StoreID != sess.StoreID {
		return nil, store.NotFound("shift", shiftID)
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.Conflict(store.CodeShiftNotOpen, "shift is not open",
			map[string]any{"shift_id": shift.ID, "status": shift.Status})
	}
	return shift, nil
}

// resolveShiftID picks the session's explicit shift or the register's active
// one. Locking happens later inside the transaction.
func (s *Service) resolveShiftID(ctx context.Context, storeID string, registerID string, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	active, err := s.repo.GetActiveShift(ctx, storeID, registerID)
	if errors.Is(err, store.ErrNotFound) {
		return "", store.Conflict(store.CodeNoActiveShift, "no open shift for this register",
			map[string]any{"store_id": storeID, "register_id": registerID})
	}
	if err != nil {
		return "", err
	}
	return active.ID, nil
}

// lockActiveShift locks shiftID and requires it to be open on registerID in
// storeID. A shift of another register is treated as absent.
func lockActiveShift(ctx context.Context, tx store.Tx, storeID string, registerID string, shiftID string) (*domain.CashShift, error) {
	shift, err := tx.LockShift(ctx, shiftID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.Conflict(store.CodeNoActiveShift, "no open shift for this register", map[string]any{"shift_id": shiftID})
	}
	if err != nil {
		return nil, err
	}
	if shift.StoreID != storeID || shift.Status != domain.ShiftStatusOpen {
		return nil, store.Conflict(store.CodeNoActiveShift, "no open shift for this register",
			map[string]any{"shift_id": shiftID, "status": shift.Status})
	}
	if shift.RegisterID != registerID {
		return nil, store.Conflict(store.CodeNoActiveShift, "shift belongs to another register",
			map[string]any{"shift_id": shiftID, "register_id": registerID, "shift_register_id": shift.RegisterID})
	}
	return shift, nil
}

func replaceCounts(ctx context.Context, tx store.Tx, shiftID string, countType string, counts []domain.CashCount) error {
	if err := tx.DeleteCashCounts(ctx, shiftID, countType); err != nil {
		return err
	}
	for _, count := range counts {
		count.ShiftID = shiftID
		if err := tx.InsertCashCount(ctx, count); err != nil {
			return err
		}
	}
	return nil
}

func reconcileShift(ctx context.Context, tx store.Tx, shiftID string, closing []domain.CashCount, baseCurrency string) (map[string]domain.CurrencyReconciliation, error) {
	opening, err := tx.ListCashCounts(ctx, shiftID, domain.CashCountOpening)
	if err != nil {
		return nil, err
	}
	movements, err := tx.ListCashMovements(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	return ledger.Reconcile(opening, movements, closing, baseCurrency), nil
}
