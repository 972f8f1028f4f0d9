package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// Well-known development key (hardhat account #0).
const devKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var devAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+devKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, devKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err)
	_, err = EncryptKey(devKeyHex, "")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	key, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + devKeyHex})
	require.NoError(t, err)
	assert.Equal(t, devAddress, ethcrypto.PubkeyToAddress(key.PublicKey))

	blob, err := EncryptKey(devKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	key, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, devAddress, ethcrypto.PubkeyToAddress(key.PublicKey))

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
	_, err = LoadKey(KeyConfig{RawPrivateKey: "zz"})
	assert.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	key, err := ethcrypto.HexToECDSA(devKeyHex)
	require.NoError(t, err)

	msg := []byte("hello")
	sig, err := SignMessage(key, msg)
	require.NoError(t, err)

	raw, err := hex.DecodeString(sig[2:])
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.Contains(t, []byte{27, 28}, raw[64])

	signer, err := RecoverSigner(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, devAddress, signer)

	// 0/1 recovery ids are accepted too.
	raw[64] -= 27
	signer, err = RecoverSigner(msg, hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, devAddress, signer)

	_, err = RecoverSigner(msg, "0x1234")
	assert.ErrorIs(t, err, domain.ErrBadSignature)
	_, err = RecoverSigner(msg, "not-hex")
	assert.ErrorIs(t, err, domain.ErrBadSignature)
}

func TestRequestVerifier(t *testing.T) {
	key, err := ethcrypto.HexToECDSA(devKeyHex)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	v := NewRequestVerifier(5 * time.Minute)
	v.now = func() time.Time { return now }

	body := []byte(`{"price":"1000"}`)
	ts := now.Unix()
	sig, err := SignMessage(key, RequestMessage("post", "/api/listings", devAddress, ts, body))
	require.NoError(t, err)

	require.NoError(t, v.Verify("POST", "/api/listings", devAddress, ts, body, sig))

	other := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	assert.ErrorIs(t, v.Verify("POST", "/api/listings", other, ts, body, sig), domain.ErrBadSignature)
	assert.ErrorIs(t, v.Verify("POST", "/api/listings", devAddress, ts, []byte(`{"price":"1"}`), sig), domain.ErrBadSignature)
	assert.ErrorIs(t, v.Verify("DELETE", "/api/listings", devAddress, ts, body, sig), domain.ErrBadSignature)

	stale := now.Add(-10 * time.Minute).Unix()
	staleSig, err := SignMessage(key, RequestMessage("POST", "/api/listings", devAddress, stale, body))
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify("POST", "/api/listings", devAddress, stale, body, staleSig), domain.ErrBadSignature)
}
