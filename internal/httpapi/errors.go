package httpapi

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"gradify.org/internal/auth"
	"gradify.org/internal/ledger"
	"gradify.org/internal/obs"
	"gradify.org/internal/vesting"
)

// classify maps a domain error onto both transports. expose reports whether
// err's message is safe to return to the caller.
func classify(err error) (status int, code codes.Code, expose bool) {
	switch {
	case errors.Is(err, vesting.ErrInvalidVestingPeriod),
		errors.Is(err, vesting.ErrInvalidCompanyName),
		errors.Is(err, vesting.ErrInvalidIdentity),
		errors.Is(err, vesting.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidCurrency),
		errors.Is(err, ledger.ErrInvalidAccount):
		return http.StatusBadRequest, codes.InvalidArgument, true
	case errors.Is(err, vesting.ErrProgramNotFound),
		errors.Is(err, vesting.ErrEmployeeNotFound),
		errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, codes.NotFound, true
	case errors.Is(err, vesting.ErrProgramExists),
		errors.Is(err, vesting.ErrEmployeeExists):
		return http.StatusConflict, codes.AlreadyExists, true
	case errors.Is(err, vesting.ErrConcurrentUpdate):
		return http.StatusConflict, codes.Aborted, true
	case errors.Is(err, vesting.ErrAmbiguousProgram),
		errors.Is(err, vesting.ErrTreasuryUnderfunded),
		errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, codes.FailedPrecondition, true
	case errors.Is(err, vesting.ErrClaimNotAvailableYet),
		errors.Is(err, vesting.ErrNothingToClaim):
		return http.StatusUnprocessableEntity, codes.FailedPrecondition, true
	case errors.Is(err, vesting.ErrCalculationOverflow),
		errors.Is(err, ledger.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity, codes.OutOfRange, true
	case errors.Is(err, vesting.ErrNotProgramOwner),
		errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, codes.PermissionDenied, true
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, codes.Unauthenticated, true
	default:
		return http.StatusInternalServerError, codes.Internal, false
	}
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, _, expose := classify(err)
	if !expose {
		obs.Logger().ErrorContext(r.Context(), "request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, r, status, "internal error")
		return
	}
	writeErrorCode(w, r, status, err.Error(), vesting.Reason(err))
}
