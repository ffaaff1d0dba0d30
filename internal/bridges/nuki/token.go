package nuki

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// tokenTimeLayout is the timestamp format the hashed token is built from.
const tokenTimeLayout = "2006-01-02T15:04:05Z"

// MaxNonce is the largest random number used in a hashed token.
const MaxNonce = 65535

// HashToken returns hex(sha256(ts + "," + rnr + "," + token)).
func HashToken(ts string, rnr int, token string) string {
	sum := sha256.Sum256([]byte(ts + "," + strconv.Itoa(rnr) + "," + token))
	return hex.EncodeToString(sum[:])
}

// authParams returns the query parameters authenticating one request.
func authParams(token string, hashed bool, now time.Time, rnr int) url.Values {
	v := url.Values{}
	if !hashed {
		v.Set("token", token)
		return v
	}
	ts := now.UTC().Format(tokenTimeLayout)
	v.Set("ts", ts)
	v.Set("rnr", strconv.Itoa(rnr))
	v.Set("hash", HashToken(ts, rnr, token))
	return v
}
