package service

import (
	"context"
	"strings"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/ledger"
	"poscore/backend/internal/store"
)

func (s *Service) AllocateDocumentNumber(ctx context.Context, sess domain.Session, documentType string) (number domain.FiscalNumber, err error) {
	defer func() { s.observe("allocate_document_number", err) }()

	sess, err = s.session(sess)
	if err != nil {
		return domain.FiscalNumber{}, err
	}
	documentType = strings.ToUpper(strings.TrimSpace(documentType))

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		number, err = ledger.Allocate(ctx, tx, sess.StoreID, documentType)
		return err
	})
	s.metrics.Allocation(documentType, allocationResult(err))
	if err != nil {
		return domain.FiscalNumber{}, err
	}
	return number, nil
}

// PreviewNextNumber shows the number the next allocation would issue. It
// takes no lock and reserves nothing; nil means nothing can be issued.
func (s *Service) PreviewNextNumber(ctx context.Context, sess domain.Session, documentType string) (*domain.FiscalNumber, error) {
	sess, err := s.session(sess)
	if err != nil {
		return nil, err
	}
	documentType = strings.ToUpper(strings.TrimSpace(documentType))
	if documentType == "" {
		return nil, store.Validation(store.CodeInvalidInput, "document type is required", nil)
	}

	seq, err := s.repo.PeekSequence(ctx, sess.StoreID, documentType)
	if err != nil {
		return nil, err
	}
	if seq == nil || !seq.Active || seq.Exhausted() {
		return nil, nil
	}
	return &domain.FiscalNumber{
		DocumentType: documentType,
		Formatted:    ledger.FormatNumber(*seq),
		Raw:          seq.NextNumber,
	}, nil
}

func allocationResult(err error) string {
	if err == nil {
		return "ok"
	}
	if code := store.CodeOf(err); code != "" {
		return code
	}
	return "error"
}
