// Package crypto implements Polymarket wallet authentication: EIP-712
// ClobAuth signatures for L1 requests, HMAC signing for L2 requests, and
// loading of the wallet key from plain or encrypted storage.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// clobAuthMessage is the fixed attestation string the CLOB expects inside
// every ClobAuth payload.
const clobAuthMessage = "This message attests that I control the given wallet"

// WalletSigner produces L1 authentication headers for the Polymarket CLOB.
type WalletSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID int64
}

// NewWalletSigner parses a hex secp256k1 key (0x prefix optional) for the
// given chain (137 Polygon mainnet, 80002 Amoy).
func NewWalletSigner(privateKeyHex string, chainID int64) (*WalletSigner, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid wallet key: %w", err)
	}
	return &WalletSigner{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

// Address is the wallet's checksummed address.
func (w *WalletSigner) Address() string { return w.address.Hex() }

// ClobAuthDigest returns the EIP-712 digest for a ClobAuth message.
func (w *WalletSigner) ClobAuthDigest(ts time.Time, nonce int64) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(w.chainID),
		},
		Message: apitypes.TypedDataMessage{
			"address":   w.address.Hex(),
			"timestamp": strconv.FormatInt(ts.Unix(), 10),
			"nonce":     big.NewInt(nonce),
			"message":   clobAuthMessage,
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("crypto: hash ClobAuth: %w", err)
	}
	return digest, nil
}

// SignClobAuth signs a ClobAuth message and returns the 0x-prefixed 65-byte
// signature with v in {27,28}.
func (w *WalletSigner) SignClobAuth(ts time.Time, nonce int64) (string, error) {
	digest, err := w.ClobAuthDigest(ts, nonce)
	if err != nil {
		return "", err
	}
	sig, err := ethcrypto.Sign(digest, w.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign ClobAuth: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// L1Headers returns the headers for CLOB endpoints authenticated by wallet
// signature, such as deriving API credentials.
func (w *WalletSigner) L1Headers(ts time.Time, nonce int64) (map[string]string, error) {
	sig, err := w.SignClobAuth(ts, nonce)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":   w.Address(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": strconv.FormatInt(ts.Unix(), 10),
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}, nil
}
