// Package account normalizes mailbox addresses into the keys used by
// credential stores.
package account

import "strings"

// Normalize returns the canonical form of a mailbox address: surrounding
// whitespace removed and lower cased.  Normalize(Normalize(s)) ==
// Normalize(s) for all s.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
