package password

import "testing"

func TestPolicyAcceptsStrongPassword(t *testing.T) {
	res := DefaultPolicy().Validate("Stall-Owner-2024!")
	if !res.Valid || len(res.Errors) != 0 {
		t.Fatalf("expected valid password, got %+v", res)
	}
}

func TestPolicyReportsEveryViolation(t *testing.T) {
	res := DefaultPolicy().Validate("abc")
	if res.Valid {
		t.Fatal("expected weak password to be invalid")
	}
	// too short, no upper, no digit, no symbol
	if len(res.Errors) != 4 {
		t.Fatalf("expected 4 violations, got %d: %v", len(res.Errors), res.Errors)
	}
}

func TestPolicyRejectsInvalidUTF8(t *testing.T) {
	res := DefaultPolicy().Validate("Valid-Pass-1\xff")
	if res.Valid {
		t.Fatal("expected invalid UTF-8 to be rejected")
	}
}

func TestPolicyRejectsControlCharacters(t *testing.T) {
	res := DefaultPolicy().Validate("Valid-Pass-1\x00")
	if res.Valid {
		t.Fatal("expected control characters to be rejected")
	}
	if len(res.Errors) != 1 || res.Errors[0] != "password contains control characters" {
		t.Fatalf("unexpected violations: %q", res.Errors)
	}
}

func TestPolicyControlCharactersKeepOtherViolations(t *testing.T) {
	res := DefaultPolicy().Validate("ab\x01")
	want := []string{
		"password must be at least 10 characters",
		"password must contain an uppercase letter",
		"password must contain a digit",
		"password must contain a symbol",
		"password contains control characters",
	}
	if res.Valid {
		t.Fatal("expected weak password to be rejected")
	}
	if len(res.Errors) != len(want) {
		t.Fatalf("violations = %q, want %q", res.Errors, want)
	}
	for i := range want {
		if res.Errors[i] != want[i] {
			t.Fatalf("violation %d = %q, want %q", i, res.Errors[i], want[i])
		}
	}
}

func TestPolicyMaxLength(t *testing.T) {
	p := Policy{MinLength: 1, MaxLength: 4}
	res := p.Validate("abcde")
	if res.Valid || len(res.Errors) != 1 {
		t.Fatalf("expected single max length violation, got %+v", res)
	}
}
