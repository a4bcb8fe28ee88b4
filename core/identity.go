package core

import "strings"

const identifierSeparator = "-at-"

// ToAccountIdentifier maps an email to the pool username by replacing its
// first '@'. No validation happens here; the provider rejects bad input.
func ToAccountIdentifier(email string) string {
	return strings.Replace(email, "@", identifierSeparator, 1)
}
