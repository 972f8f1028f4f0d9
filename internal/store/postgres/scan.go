package postgres

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Amounts and token ids are NUMERIC(78,0) columns read back as ::text so they
// round-trip through *big.Int without precision loss.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", s)
	}
	return v, nil
}

func parseAddress(s string) common.Address {
	return common.HexToAddress(s)
}
