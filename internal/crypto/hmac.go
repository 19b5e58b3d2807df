package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// L2Auth is a set of CLOB API credentials derived from a wallet signature.
type L2Auth struct {
	Key        string
	Secret     string // URL-safe base64
	Passphrase string
}

// Headers signs one request. The signature is
// base64url(HMAC-SHA256(secret, timestamp+method+path+body)).
func (a L2Auth) Headers(address, method, path, body string, ts time.Time) map[string]string {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    a.Key,
		"POLY_PASSPHRASE": a.Passphrase,
		"POLY_TIMESTAMP":  stamp,
		"POLY_SIGNATURE":  a.sign(stamp + method + path + body),
	}
}

func (a L2Auth) sign(message string) string {
	secret, err := base64.URLEncoding.DecodeString(a.Secret)
	if err != nil {
		// Some credentials are issued with standard padding characters.
		if secret, err = base64.StdEncoding.DecodeString(a.Secret); err != nil {
			secret = []byte(a.Secret)
		}
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// String redacts the secret material.
func (a L2Auth) String() string {
	if len(a.Key) <= 4 {
		return "L2Auth{****}"
	}
	return "L2Auth{" + a.Key[:4] + "****}"
}
