package password

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Policy describes the strength rules a new password must satisfy.
type Policy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPolicy returns the marketplace password rules.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     10,
		MaxLength:     128,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// Strength is the outcome of a policy check. Errors lists every rule the
// password violated, in a stable order.
type Strength struct {
	Valid  bool
	Errors []string
}

// Validate checks password against every rule of p and reports all
// violations rather than stopping at the first. Input that is not valid
// UTF-8 is rejected outright.
func (p Policy) Validate(password string) Strength {
	if !utf8.ValidString(password) {
		return Strength{Errors: []string{"password contains invalid characters"}}
	}

	var (
		errs                              []string
		hasUpper, hasLower, hasDigit, sym bool
		hasControl                        bool
	)

	length := utf8.RuneCountInString(password)
	if p.MinLength > 0 && length < p.MinLength {
		errs = append(errs, fmt.Sprintf("password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		errs = append(errs, fmt.Sprintf("password must be at most %d characters", p.MaxLength))
	}

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			sym = true
		case unicode.IsControl(r):
			hasControl = true
		}
	}

	if p.RequireUpper && !hasUpper {
		errs = append(errs, "password must contain an uppercase letter")
	}
	if p.RequireLower && !hasLower {
		errs = append(errs, "password must contain a lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		errs = append(errs, "password must contain a digit")
	}
	if p.RequireSymbol && !sym {
		errs = append(errs, "password must contain a symbol")
	}
	if hasControl {
		errs = append(errs, "password contains control characters")
	}

	return Strength{Valid: len(errs) == 0, Errors: errs}
}
