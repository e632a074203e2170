package auth

import "fmt"

// User-facing sign-in failure messages.
const (
	MessageGeneric            = "Could not complete sign-in."
	MessageCancelled          = "Sign-in cancelled."
	MessageUnauthorizedDomain = "Sign-in failed: add this domain to the authorized domains."
)

// Classify maps a provider code to the message shown to the user.
func Classify(code string) string {
	switch code {
	case "":
		return MessageGeneric
	case CodeUnauthorizedDomain:
		return MessageUnauthorizedDomain
	case CodePopupClosedByUser:
		return MessageCancelled
	default:
		return fmt.Sprintf("Sign-in failed: %s.", code)
	}
}
