package auth

import "time"

// CredentialsDTO is the transport shape for client-credential token requests.
type CredentialsDTO struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TokenResponse carries a freshly minted service token.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ValidationError represents a simple validation error from DTO validation.
type ValidationError struct {
	Msg string
}

func (v ValidationError) Error() string { return v.Msg }

// Validate checks required fields and returns a ValidationError on failure.
func (d CredentialsDTO) Validate() error {
	if d.ClientID == "" {
		return ValidationError{Msg: "client_id is required"}
	}
	if d.ClientSecret == "" {
		return ValidationError{Msg: "client_secret is required"}
	}
	return nil
}
