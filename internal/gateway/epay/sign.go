package epay

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// signType is the only signature scheme the aggregator supports.
const signType = "MD5"

// Sign computes the aggregator's keyed digest over callback or request
// parameters: sort keys ascending, drop the signature fields and empty
// values, join as k=v pairs with '&', append the merchant key, MD5 hex.
func Sign(params url.Values, key string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" || k == "sign_type" {
			continue
		}
		if params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	b.WriteString(key)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the signature over params and compares it with the
// supplied sign field in constant time.
func Verify(params url.Values, key string) bool {
	provided := strings.TrimSpace(params.Get("sign"))
	if provided == "" {
		return false
	}
	expected := Sign(params, key)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(provided))) == 1
}
