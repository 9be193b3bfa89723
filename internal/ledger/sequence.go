package ledger

import (
	"context"
	"fmt"
	"strings"

	"poscore/backend/internal/domain"
	"poscore/backend/internal/store"
)

// FormatNumber renders the sequence's next number as prefix + zero padded digits.
func FormatNumber(seq domain.FiscalSequence) string {
	return FormatRaw(seq.Prefix, seq.NextNumber, seq.PadLength)
}

func FormatRaw(prefix string, number int64, pad int) string {
	if pad < 1 {
		return fmt.Sprintf("%s%d", prefix, number)
	}
	return fmt.Sprintf("%s%0*d", prefix, pad, number)
}

// Allocate issues the next number of the active (store, documentType)
// sequence. The row stays locked until tx ends, so concurrent allocations on
// the same key serialize while other stores and types proceed.
func Allocate(ctx context.Context, tx store.Tx, storeID string, documentType string) (domain.FiscalNumber, error) {
	documentType = strings.ToUpper(strings.TrimSpace(documentType))
	if storeID == "" || documentType == "" {
		return domain.FiscalNumber{}, store.Validation(store.CodeInvalidInput, "store and document type are required", nil)
	}

	seq, err := tx.LockSequence(ctx, storeID, documentType)
	if err != nil {
		return domain.FiscalNumber{}, err
	}
	if seq == nil || !seq.Active {
		return domain.FiscalNumber{}, &store.Error{
			Kind:    store.ErrNotFound,
			Code:    store.CodeSequenceNotFound,
			Message: "no active fiscal sequence",
			Fields:  map[string]any{"store_id": storeID, "document_type": documentType},
		}
	}
	if seq.Exhausted() {
		return domain.FiscalNumber{}, store.Conflict(store.CodeSequenceExhausted, "fiscal sequence exhausted",
			map[string]any{"store_id": storeID, "document_type": documentType, "end_number": *seq.EndNumber})
	}

	number := domain.FiscalNumber{
		DocumentType: documentType,
		Formatted:    FormatNumber(*seq),
		Raw:          seq.NextNumber,
	}
	if err := tx.SetSequenceNext(ctx, storeID, documentType, seq.NextNumber+1); err != nil {
		return domain.FiscalNumber{}, err
	}
	return number, nil
}
