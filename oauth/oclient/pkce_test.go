package oclient

import (
	"regexp"
	"testing"
)

func TestNewPKCEPair(t *testing.T) {
	const minLen, maxLen = 43, 128

	p1, err := newPKCEPair()
	if err != nil {
		t.Fatalf("newPKCEPair returned error: %v", err)
	}
	if l := len(p1.Verifier); l < minLen || l > maxLen {
		t.Errorf("verifier length = %d, want between %d and %d", l, minLen, maxLen)
	}

	validChars := regexp.MustCompile(`^[A-Za-z0-9\-_]+$`)
	if !validChars.MatchString(p1.Verifier) {
		t.Errorf("verifier contains invalid characters: %q", p1.Verifier)
	}
	if p1.Challenge != s256Challenge(p1.Verifier) {
		t.Errorf("challenge does not match verifier")
	}

	p2, err := newPKCEPair()
	if err != nil {
		t.Fatalf("newPKCEPair returned error: %v", err)
	}
	if p1.Verifier == p2.Verifier {
		t.Errorf("two verifiers should not be equal (got %q twice)", p1.Verifier)
	}
}

func TestS256Challenge_RFCExample(t *testing.T) {
	// RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if got := s256Challenge(verifier); got != want {
		t.Errorf("s256Challenge(%q) = %q; want %q", verifier, got, want)
	}
}
