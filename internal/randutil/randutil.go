// Package randutil provides a short random-id helper used for
// per-handshake log correlation ids.
package randutil

import (
	"crypto/rand"

	"github.com/keybase/saltpack/encoding/basex"
)

// Base62ish returns a short, filesystem- and log-safe random token, base62
// encoded the same way Rand256Base62 does for its short ids.
func Base62ish() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return basex.Base62StdEncoding.EncodeToString(buf), nil
}
