package wire

import (
	"net/url"
	"sort"
	"strings"
)

// leading fields are emitted first, in this order; h always goes last.
var leading = []string{FieldID, FieldNonce, FieldOTP}

// EncodeQuery renders fields as a URL query string of the form
// id=..&nonce=..&otp=..&h=.. with every value percent-encoded.
// Fields outside the protocol's fixed set are placed between otp and h in
// sorted order.
func EncodeQuery(fields Fields) string {
	var parts []string
	seen := make(map[string]bool, len(leading)+1)

	for _, k := range leading {
		if v, ok := fields[k]; ok {
			parts = append(parts, pair(k, v))
		}
		seen[k] = true
	}
	seen[FieldSignature] = true

	var rest []string
	for k := range fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		parts = append(parts, pair(k, fields[k]))
	}

	if v, ok := fields[FieldSignature]; ok {
		parts = append(parts, pair(FieldSignature, v))
	}
	return strings.Join(parts, "&")
}

// BuildURL joins a server base URL with an encoded query.
func BuildURL(base, query string) string {
	if strings.Contains(base, "?") {
		return base + "&" + query
	}
	return base + "?" + query
}

func pair(k, v string) string {
	return url.QueryEscape(k) + "=" + url.QueryEscape(v)
}
