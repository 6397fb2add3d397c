package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// verifierAlphabet is the RFC 7636 §4.1 "unreserved" character set a
// code_verifier is drawn from.
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

const verifierLength = 128

// PKCEPair is a generated code_verifier/code_challenge pair, S256-bound.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE produces a 128-character RFC 7636 code_verifier and its
// S256 code_challenge. The verifier is drawn from crypto/rand, so two
// calls collide with negligible probability.
func GeneratePKCE() (PKCEPair, error) {
	buf := make([]byte, verifierLength)
	if _, err := rand.Read(buf); err != nil {
		return PKCEPair{}, fmt.Errorf("generate code_verifier entropy: %w", err)
	}

	verifier := make([]byte, verifierLength)
	for i, b := range buf {
		verifier[i] = verifierAlphabet[int(b)%len(verifierAlphabet)]
	}

	return PKCEPair{
		Verifier:  string(verifier),
		Challenge: ChallengeFromVerifier(string(verifier)),
	}, nil
}

// ChallengeFromVerifier computes S256(verifier), base64url-encoded
// without padding — always 43 characters for a SHA-256 digest.
func ChallengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyChallenge checks verifier against an expected challenge in
// constant time, so a timing side-channel can't help an attacker guess
// the challenge byte by byte.
func VerifyChallenge(verifier, expectedChallenge string) bool {
	got := ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(got), []byte(expectedChallenge)) == 1
}

// GenerateState produces a random, URL-safe state parameter used to bind
// the authorization request to its callback.
func GenerateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
