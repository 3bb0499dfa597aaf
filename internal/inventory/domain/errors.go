package domain

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/medflow/stockledger/pkg/errors"
)

// Sentinel errors. Every domain error wraps one of these; match with errors.Is.
var (
	ErrInvalidDelta               = stderrors.New("invalid delta")
	ErrLotRequired                = stderrors.New("lot required")
	ErrInsufficientStock          = stderrors.New("insufficient stock")
	ErrInsufficientAvailableStock = stderrors.New("insufficient available stock")
	ErrAlreadyConsumedOrReleased  = stderrors.New("reservation already consumed or released")
	ErrCountNotInProgress         = stderrors.New("count not in progress")
	ErrIncompleteCount            = stderrors.New("incomplete count")
	ErrAlreadyApproved            = stderrors.New("count already approved")
	ErrConcurrentModification     = stderrors.New("concurrent modification")
	ErrInvalidCountTransition     = stderrors.New("invalid count transition")
	ErrNotTracked                 = stderrors.New("product stock not tracked")
	ErrLotMismatch                = stderrors.New("lot does not belong to product")
	ErrProductInactive            = stderrors.New("product inactive")
)

// Reasons reported with insufficient stock errors. They tell the caller
// which corrective action applies.
const (
	ShortageNoPhysicalStock = "no_physical_stock"
	ShortageReserved        = "reserved"
	ShortageUnusableLots    = "unusable_lots"
)

func itoa(i int) string { return strconv.Itoa(i) }

// InvalidDelta reports a posting that would take a lot or product below zero.
func InvalidDelta(productID string, lotID *string, delta, current int) *errors.AppError {
	params := map[string]string{
		"product_id": productID,
		"delta":      itoa(delta),
		"current":    itoa(current),
	}
	if lotID != nil {
		params["lot_id"] = *lotID
	}
	return errors.Domain(ErrInvalidDelta, "INVALID_DELTA", "errors.invalid_delta", http.StatusUnprocessableEntity, params)
}

// ExceedsLotCapacity reports a positive posting that would leave a lot
// holding more than it was received with.
func ExceedsLotCapacity(productID, lotID string, delta, current, initial int) *errors.AppError {
	return errors.Domain(ErrInvalidDelta, "INVALID_DELTA", "errors.invalid_delta_capacity", http.StatusUnprocessableEntity,
		map[string]string{
			"product_id": productID,
			"lot_id":     lotID,
			"delta":      itoa(delta),
			"current":    itoa(current),
			"initial":    itoa(initial),
		})
}

// LotRequired reports a posting without lot for a lot-tracked product.
func LotRequired(productID string) *errors.AppError {
	return errors.Domain(ErrLotRequired, "LOT_REQUIRED", "errors.lot_required", http.StatusBadRequest,
		map[string]string{"product_id": productID})
}

// InsufficientStock reports that usable lots cannot cover a consumption.
// onHand counts every lot; allocatable only lots FEFO may draw from.
func InsufficientStock(productID string, requested, allocatable, onHand int) *errors.AppError {
	reason := ShortageNoPhysicalStock
	if onHand > allocatable {
		reason = ShortageUnusableLots
	}
	return errors.Domain(ErrInsufficientStock, "INSUFFICIENT_STOCK", "errors.insufficient_stock", http.StatusConflict,
		map[string]string{
			"product_id": productID,
			"requested":  itoa(requested),
			"available":  itoa(allocatable),
			"on_hand":    itoa(onHand),
			"shortfall":  itoa(requested - allocatable),
			"reason":     reason,
		})
}

// InsufficientAvailableStock reports a reservation or direct consumption
// that exceeds on-hand minus active reservations. The reason is "reserved"
// when on-hand alone would have covered the request.
func InsufficientAvailableStock(productID string, requested, onHand, reserved int) *errors.AppError {
	available := onHand - reserved
	reason := ShortageNoPhysicalStock
	key := "errors.insufficient_available_stock"
	if onHand >= requested {
		reason = ShortageReserved
		key = "errors.insufficient_available_stock_reserved"
	}
	return errors.Domain(ErrInsufficientAvailableStock, "INSUFFICIENT_AVAILABLE_STOCK", key, http.StatusConflict,
		map[string]string{
			"product_id": productID,
			"requested":  itoa(requested),
			"on_hand":    itoa(onHand),
			"reserved":   itoa(reserved),
			"available":  itoa(available),
			"shortfall":  itoa(requested - available),
			"reason":     reason,
		})
}

// AlreadyConsumedOrReleased reports a consume on a finished reservation.
func AlreadyConsumedOrReleased(reservationID string, status ReservationStatus) *errors.AppError {
	return errors.Domain(ErrAlreadyConsumedOrReleased, "ALREADY_CONSUMED_OR_RELEASED", "errors.already_consumed_or_released",
		http.StatusConflict, map[string]string{"reservation_id": reservationID, "status": string(status)})
}

// CountNotInProgress reports a mutation on a count that no longer accepts counts.
func CountNotInProgress(countID string, status CountStatus) *errors.AppError {
	return errors.Domain(ErrCountNotInProgress, "COUNT_NOT_IN_PROGRESS", "errors.count_not_in_progress",
		http.StatusConflict, map[string]string{"count_id": countID, "status": string(status)})
}

// IncompleteCount lists the products whose lines are still uncounted.
func IncompleteCount(countID string, missingProductIDs []string) *errors.AppError {
	return errors.Domain(ErrIncompleteCount, "INCOMPLETE_COUNT", "errors.incomplete_count",
		http.StatusUnprocessableEntity, map[string]string{
			"count_id":            countID,
			"missing":             itoa(len(missingProductIDs)),
			"missing_product_ids": strings.Join(missingProductIDs, ","),
		})
}

// AlreadyApproved reports a second approval.
func AlreadyApproved(countID string) *errors.AppError {
	return errors.Domain(ErrAlreadyApproved, "ALREADY_APPROVED", "errors.already_approved",
		http.StatusConflict, map[string]string{"count_id": countID})
}

// InvalidCountTransition reports any other disallowed count status change.
func InvalidCountTransition(countID string, from, to CountStatus) *errors.AppError {
	return errors.Domain(ErrInvalidCountTransition, "INVALID_COUNT_TRANSITION", "errors.invalid_count_transition",
		http.StatusConflict, map[string]string{"count_id": countID, "from": string(from), "to": string(to)})
}

// ConcurrentModification reports lock contention that outlived the retries.
func ConcurrentModification(cause error) *errors.AppError {
	appErr := errors.Domain(ErrConcurrentModification, "CONCURRENT_MODIFICATION", "errors.concurrent_modification",
		http.StatusConflict, nil)
	if cause != nil {
		appErr.WithDetail("cause", cause.Error())
	}
	return appErr
}

// NotTracked reports a ledger posting for a product without stock tracking.
func NotTracked(productID string) *errors.AppError {
	return errors.Domain(ErrNotTracked, "PRODUCT_NOT_TRACKED", "errors.not_tracked", http.StatusBadRequest,
		map[string]string{"product_id": productID})
}

// LotMismatch reports a lot ID that belongs to another product.
func LotMismatch(productID, lotID string) *errors.AppError {
	return errors.Domain(ErrLotMismatch, "LOT_MISMATCH", "errors.lot_mismatch", http.StatusBadRequest,
		map[string]string{"product_id": productID, "lot_id": lotID})
}

// ProductInactive reports a new stock operation on a deactivated product.
func ProductInactive(productID string) *errors.AppError {
	return errors.Domain(ErrProductInactive, "PRODUCT_INACTIVE", "errors.product_inactive",
		http.StatusUnprocessableEntity, map[string]string{"product_id": productID})
}
