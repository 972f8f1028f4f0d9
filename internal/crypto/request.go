package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// RequestMessage is the text an account signs (EIP-191 personal_sign) to
// authorise one API request. The body is bound by its keccak256 hash.
func RequestMessage(method, path string, account common.Address, timestamp int64, body []byte) []byte {
	var b strings.Builder
	b.WriteString("marketd request\n")
	b.WriteString("method:" + strings.ToUpper(method) + "\n")
	b.WriteString("path:" + path + "\n")
	b.WriteString("account:" + account.Hex() + "\n")
	b.WriteString("timestamp:" + strconv.FormatInt(timestamp, 10) + "\n")
	b.WriteString("body:" + ethcrypto.Keccak256Hash(body).Hex())
	return []byte(b.String())
}

// SignMessage returns the 0x-prefixed 65-byte personal_sign signature of msg,
// with a recovery byte of 27 or 28 as wallets produce it.
func SignMessage(key *ecdsa.PrivateKey, msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner returns the address that produced the personal_sign
// signature sigHex over msg. Recovery bytes 0/1 and 27/28 are accepted.
func RecoverSigner(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: signature hex: %w", domain.ErrBadSignature)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto: signature length %d: %w", len(sig), domain.ErrBadSignature)
	}
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", domain.ErrBadSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RequestVerifier checks signed API requests.
type RequestVerifier struct {
	maxAge time.Duration
	now    func() time.Time
}

// NewRequestVerifier accepts signatures whose timestamp is within maxAge of
// the current time in either direction.
func NewRequestVerifier(maxAge time.Duration) *RequestVerifier {
	return &RequestVerifier{maxAge: maxAge, now: time.Now}
}

// Verify fails with domain.ErrBadSignature unless sigHex is account's
// signature over the request and timestamp (unix seconds) is fresh.
func (v *RequestVerifier) Verify(method, path string, account common.Address, timestamp int64, body []byte, sigHex string) error {
	age := v.now().Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > v.maxAge {
		return fmt.Errorf("crypto: request timestamp outside %s: %w", v.maxAge, domain.ErrBadSignature)
	}

	signer, err := RecoverSigner(RequestMessage(method, path, account, timestamp, body), sigHex)
	if err != nil {
		return err
	}
	if signer != account {
		return fmt.Errorf("crypto: signed by %s, not %s: %w", signer.Hex(), account.Hex(), domain.ErrBadSignature)
	}
	return nil
}
