package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/crypto"
)

// Headers carrying the caller identity.
const (
	HeaderAccount   = "X-Account"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 1 << 20

type callerKey struct{}

// CallerFrom returns the authenticated caller, if the request named one.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// WithCaller attaches caller to ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller resolves the X-Account header into the request context. A request
// with an X-Signature is verified against the account; when required is set
// every request naming an account must be signed. Requests without
// X-Account pass through anonymous.
func Caller(verifier *crypto.RequestVerifier, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderAccount)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeError(w, http.StatusBadRequest, "invalid X-Account")
				return
			}
			account := common.HexToAddress(raw)

			sig := r.Header.Get(HeaderSignature)
			if sig == "" && required {
				writeError(w, http.StatusUnauthorized, "signature required")
				return
			}
			if sig != "" {
				if err := verify(r, verifier, account, sig); err != nil {
					writeError(w, http.StatusUnauthorized, "invalid signature")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), account)))
		})
	}
}

func verify(r *http.Request, verifier *crypto.RequestVerifier, account common.Address, sig string) error {
	if verifier == nil {
		return errors.New("no verifier")
	}
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return err
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			return err
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	return verifier.Verify(r.Method, r.URL.Path, account, ts, body, sig)
}
