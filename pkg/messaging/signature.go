package messaging

import (
	"net/url"

	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the provider's HMAC of the request.
const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks webhook signatures with the account auth token.
type SignatureValidator struct {
	validator client.RequestValidator
}

// NewSignatureValidator returns nil for an empty token.
func NewSignatureValidator(authToken string) *SignatureValidator {
	if authToken == "" {
		return nil
	}
	return &SignatureValidator{validator: client.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the full public URL and form.
// A nil validator rejects everything.
func (v *SignatureValidator) Validate(fullURL string, form url.Values, signature string) bool {
	if v == nil || signature == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for key, values := range form {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return v.validator.Validate(fullURL, params, signature)
}
