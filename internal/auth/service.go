package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// dummySecretHash is a real cost-10 bcrypt hash. Comparisons against it run
// the full key schedule, so unknown client IDs cost the same as wrong
// secrets; a malformed hash would fail fast on decode instead.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Service authenticates registered API clients against their bcrypt-hashed
// secrets and mints service tokens. Clients come from configuration;
// rotating a secret is a config rollout, not a database migration.
type Service struct {
	secretHashes   map[string]string
	tokenGenerator TokenGenerator
	bcryptCost     int
}

func NewService(secretHashes map[string]string, tokenGen TokenGenerator, bcryptCost int) *Service {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		secretHashes:   secretHashes,
		tokenGenerator: tokenGen,
		bcryptCost:     bcryptCost,
	}
}

// Authenticate validates client credentials and returns a service token.
func (s *Service) Authenticate(dto CredentialsDTO) (TokenResponse, error) {
	if err := dto.Validate(); err != nil {
		return TokenResponse{}, err
	}

	storedHash, ok := s.secretHashes[dto.ClientID]
	if !ok {
		// Burn a comparison anyway.
		_ = bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(dto.ClientSecret))
		return TokenResponse{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(dto.ClientSecret)); err != nil {
		return TokenResponse{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokenGenerator.GenerateServiceToken(dto.ClientID)
	if err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	}, nil
}

// ValidateAccessToken validates a service token and returns its claims.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.tokenGenerator.ValidateToken(tokenString)
}

// HashClientSecret creates a bcrypt hash for registering a new client.
func (s *Service) HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
