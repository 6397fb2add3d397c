package auth

import (
	"strings"
	"testing"
)

func TestGeneratePKCE_VerifierLengthAndAlphabet(t *testing.T) {
	pair, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pair.Verifier) != verifierLength {
		t.Fatalf("expected verifier length %d, got %d", verifierLength, len(pair.Verifier))
	}
	for _, r := range pair.Verifier {
		if !strings.ContainsRune(verifierAlphabet, r) {
			t.Fatalf("verifier contains disallowed character %q", r)
		}
	}
	if len(pair.Challenge) != 43 {
		t.Fatalf("expected 43-character S256 challenge, got %d", len(pair.Challenge))
	}
}

func TestGeneratePKCE_UniqueAcrossCalls(t *testing.T) {
	a, err := GeneratePKCE()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GeneratePKCE()
	if err != nil {
		t.Fatal(err)
	}
	if a.Verifier == b.Verifier {
		t.Fatal("expected distinct verifiers across calls")
	}
}

func TestVerifyChallenge_RoundTrip(t *testing.T) {
	pair, err := GeneratePKCE()
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyChallenge(pair.Verifier, pair.Challenge) {
		t.Fatal("expected verifier to satisfy its own challenge")
	}
	if VerifyChallenge("wrong-verifier", pair.Challenge) {
		t.Fatal("expected mismatched verifier to fail")
	}
}

func TestGenerateState_NonEmptyAndUnique(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateState()
	if err != nil {
		t.Fatal(err)
	}
	if a == "" || b == "" {
		t.Fatal("expected non-empty state values")
	}
	if a == b {
		t.Fatal("expected distinct state values across calls")
	}
}
