package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/server/middleware"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// writeJSON marshals v and writes it with status, falling back to a plain
// 500 when marshaling fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps marketplace errors to HTTP status codes. Anything not
// listed is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidRecipient),
		errors.Is(err, domain.ErrPercentageTooHigh),
		errors.Is(err, domain.ErrSelfPurchase):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrNotApproved),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrListingNotActive),
		errors.Is(err, domain.ErrNoEarnings):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError answers err. Server-side failures are logged and their
// detail withheld; client errors echo the sentinel's message.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		if status == http.StatusBadGateway {
			writeError(w, status, domain.ErrTransferFailed.Error())
			return
		}
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, rootMessage(err))
}

// rootMessage returns the message of the first marketplace sentinel in err.
func rootMessage(err error) string {
	for _, s := range []error{
		domain.ErrInvalidPrice, domain.ErrNotOwner, domain.ErrNotApproved,
		domain.ErrInvalidRecipient, domain.ErrPercentageTooHigh, domain.ErrListingNotActive,
		domain.ErrInsufficientPayment, domain.ErrSelfPurchase, domain.ErrUnauthorized,
		domain.ErrNoEarnings, domain.ErrNotFound, domain.ErrRateLimited,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// requireCaller returns the authenticated caller or answers 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "X-Account required")
		return common.Address{}, false
	}
	return caller, true
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a non-negative base-10 integer.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func parseListingID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid listing id %q", r.PathValue("id"))
	}
	return id, nil
}

// parsePaging reads limit (default 50, max 500) and offset.
func parsePaging(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}
