package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifySkipsWhenNoSecretConfigured(t *testing.T) {
	verifier := NewVerifier(VerifierConfig{})
	if verifier.Enabled() {
		t.Fatalf("expected verifier to be disabled without a secret")
	}
	if err := verifier.Verify(context.Background(), ""); err != nil {
		t.Fatalf("expected disabled verifier to accept, got %v", err)
	}
}

func TestVerifyAcceptsSuccessfulProof(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if r.PostFormValue("secret") != "test-secret" {
			t.Errorf("unexpected secret %q", r.PostFormValue("secret"))
		}
		if r.PostFormValue("response") != "proof-token" {
			t.Errorf("unexpected proof %q", r.PostFormValue("response"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	verifier := NewVerifier(VerifierConfig{
		Secret:     "test-secret",
		Endpoint:   server.URL,
		HTTPClient: server.Client(),
	})

	if err := verifier.Verify(context.Background(), "proof-token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifyRejectsFailedProof(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer server.Close()

	verifier := NewVerifier(VerifierConfig{
		Secret:     "test-secret",
		Endpoint:   server.URL,
		HTTPClient: server.Client(),
	})

	if err := verifier.Verify(context.Background(), "bad-proof"); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestVerifyFailsClosedOnServiceErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	verifier := NewVerifier(VerifierConfig{
		Secret:     "test-secret",
		Endpoint:   server.URL,
		HTTPClient: server.Client(),
	})

	if err := verifier.Verify(context.Background(), "proof-token"); !errors.Is(err, ErrVerificationUnavailable) {
		t.Fatalf("expected ErrVerificationUnavailable, got %v", err)
	}
}

func TestVerifyRejectsEmptyProofWhenEnabled(t *testing.T) {
	verifier := NewVerifier(VerifierConfig{Secret: "test-secret"})
	if err := verifier.Verify(context.Background(), "  "); err == nil {
		t.Fatalf("expected empty proof to be rejected")
	}
}
