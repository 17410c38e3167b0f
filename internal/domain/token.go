package domain

type TokenKind string

const (
	TokenActivation    TokenKind = "activation"
	TokenPasswordReset TokenKind = "password-reset"
)

const (
	ReasonExpired = "expired"
	ReasonInvalid = "invalid"
)

// Verification is the fail-closed result of checking a signed token.
type Verification struct {
	Valid   bool              `json:"valid"`
	Kind    TokenKind         `json:"kind,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}
