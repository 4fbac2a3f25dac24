// Package phone normalizes Senegalese MSISDNs to E.164 before they are
// handed to a provider.
package phone

import (
	"strings"

	errors "github.com/sunutaxe/payment-service/internal"
)

const countryCode = "221"

// Senegalese mobile numbers are nine digits starting with 7 (70, 75, 76,
// 77, 78 ranges cover Orange, Free and Expresso).
func isLocalMobile(digits string) bool {
	return len(digits) == 9 && digits[0] == '7'
}

// Normalize accepts the formats callers actually send (+221771234567,
// 221771234567, 00221771234567, 771234567, with optional spaces, dots or
// dashes) and returns the canonical +221XXXXXXXXX form.
func Normalize(raw string) (string, *errors.AppError) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if cleaned == "" {
		return "", errors.NewValidationFieldError("payer_phone", "payer phone is required", errors.ErrCodeInvalidPhone)
	}

	cleaned = strings.TrimPrefix(cleaned, "+")
	cleaned = strings.TrimPrefix(cleaned, "00")

	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", errors.NewValidationFieldError("payer_phone", "payer phone contains invalid characters", errors.ErrCodeInvalidPhone)
		}
	}

	digits := cleaned
	if strings.HasPrefix(digits, countryCode) && len(digits) == len(countryCode)+9 {
		digits = digits[len(countryCode):]
	}

	if !isLocalMobile(digits) {
		return "", errors.NewValidationFieldError("payer_phone", "payer phone must be a Senegalese mobile number", errors.ErrCodeInvalidPhone)
	}

	return "+" + countryCode + digits, nil
}
