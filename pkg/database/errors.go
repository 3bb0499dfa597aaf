package database

import (
	stderrors "errors"

	"github.com/lib/pq"
	"github.com/medflow/stockledger/pkg/errors"
)

// SQLSTATE codes this package interprets
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeInvalidTextRep       = "22P02"
	codeNotNullViolation     = "23502"
	codeForeignKeyViolation  = "23503"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// uniqueMessages explains unique violations by constraint name.
var uniqueMessages = map[string]string{
	"products_tenant_sku_key":           "a product with this SKU already exists",
	"lots_product_lot_number_key":       "a lot with this lot number already exists for the product",
	"inventory_counts_count_number_key": "an inventory count with this number already exists",
}

// checkFields maps named check constraints to the field and problem they
// guard. Unnamed column checks fall back to a generic message.
var checkFields = map[string][2]string{
	"lot_quantity_range":            {"current_quantity", "must be between 0 and the initial quantity"},
	"reservation_quantity_positive": {"quantity", "must be greater than zero"},
	"ledger_delta_nonzero":          {"delta", "must not be zero"},
}

// IsRetryable reports whether err is a PostgreSQL lock or serialization
// conflict. The whole transaction may be retried.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

// IsMalformedInput reports whether PostgreSQL rejected a value's text
// form, such as an ID that is not a UUID.
func IsMalformedInput(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == codeInvalidTextRep
}

// MapPQError converts an integrity constraint violation or a malformed
// value into an AppError.
// It returns nil for anything else, including retryable conflicts.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case codeUniqueViolation:
		msg, ok := uniqueMessages[pqErr.Constraint]
		if !ok {
			msg = "a record with these values already exists"
		}
		return errors.Conflict(msg)

	case codeCheckViolation:
		if f, ok := checkFields[pqErr.Constraint]; ok {
			return errors.Validation(map[string]string{f[0]: f[1]})
		}
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)

	case codeForeignKeyViolation:
		return errors.BadRequest("referenced record does not exist").
			WithDetail("constraint", pqErr.Constraint)

	case codeNotNullViolation:
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{col: "must not be empty"})

	case codeInvalidTextRep:
		return errors.BadRequest("malformed value")
	}
	return nil
}
