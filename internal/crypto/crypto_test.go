package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway test key (hardhat account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestWalletSignerAddress(t *testing.T) {
	w, err := NewWalletSigner("0x"+testKey, 137)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", w.Address())
}

func TestSignClobAuthRecoversAddress(t *testing.T) {
	w, err := NewWalletSigner(testKey, 137)
	require.NoError(t, err)

	ts := time.Unix(1_700_000_000, 0)
	sigHex, err := w.SignClobAuth(ts, 0)
	require.NoError(t, err)

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	digest, err := w.ClobAuthDigest(ts, 0)
	require.NoError(t, err)
	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), ethcrypto.PubkeyToAddress(*pub).Hex())
}

func TestL1Headers(t *testing.T) {
	w, err := NewWalletSigner(testKey, 137)
	require.NoError(t, err)

	h, err := w.L1Headers(time.Unix(1_700_000_000, 0), 3)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), h["POLY_ADDRESS"])
	assert.Equal(t, "1700000000", h["POLY_TIMESTAMP"])
	assert.Equal(t, "3", h["POLY_NONCE"])
	assert.True(t, strings.HasPrefix(h["POLY_SIGNATURE"], "0x"))
}

func TestNewWalletSignerRejectsGarbage(t *testing.T) {
	_, err := NewWalletSigner("zz", 137)
	assert.Error(t, err)
}

func TestL2AuthHeaders(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret"))
	a := L2Auth{Key: "key-1234", Secret: secret, Passphrase: "pp"}

	h := a.Headers("0xabc", "GET", "/markets", "", time.Unix(1_700_000_000, 0))

	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte("1700000000GET/markets"))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, h["POLY_SIGNATURE"])
	assert.Equal(t, "key-1234", h["POLY_API_KEY"])
	assert.Equal(t, "pp", h["POLY_PASSPHRASE"])
	assert.Equal(t, "0xabc", h["POLY_ADDRESS"])
	assert.NotContains(t, a.String(), secret)
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeySource{RawKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeySource{})
	assert.ErrorIs(t, err, ErrNoWalletKey)

	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeySource{FilePath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)
}
