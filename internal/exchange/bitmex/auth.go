package bitmex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// timeToExpire is the signature validity window BitMEX expects.
const timeToExpire = 10 * time.Second

// Sign produces the hex HMAC-SHA256 signature BitMEX expects for
// "GET" + target + expiration, for private/authenticated channels.
// Unused by the public data-only subscriber; kept for any future
// private-channel subscriber.
func Sign(target, secret string, expiration int64) string {
	message := fmt.Sprintf("GET%s%d", target, expiration)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthFrame builds the {"op":"authKeyExpires",...} frame for the given API
// key/secret, with a 10s expiration from now.
func AuthFrame(key, secret, target string) string {
	expiration := time.Now().Add(timeToExpire).Unix()
	sig := Sign(target, secret, expiration)
	return fmt.Sprintf(`{"op":"authKeyExpires","args":[%q,%d,%q]}`, key, expiration, sig)
}
