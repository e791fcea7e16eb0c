package idempotency

import (
	"net/http"
	"strings"
)

const Header = "Idempotency-Key"

func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Set puts the key on an outgoing request; clients reuse one key across
// retries of the same logical operation.
func Set(r *http.Request, key string) {
	if key != "" {
		r.Header.Set(Header, key)
	}
}
