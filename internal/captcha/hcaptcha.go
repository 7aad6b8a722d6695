package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultEndpoint = "https://hcaptcha.com/siteverify"
	defaultTimeout  = 5 * time.Second
)

var (
	// ErrVerificationFailed means the remote service rejected the proof.
	ErrVerificationFailed = errors.New("captcha: verification failed")
	// ErrVerificationUnavailable means the remote service could not be reached.
	ErrVerificationUnavailable = errors.New("captcha: verification unavailable")

	errMissingToken = errors.New("captcha: proof token must not be empty")
)

// VerifierConfig bundles configuration required to instantiate a Verifier.
type VerifierConfig struct {
	Secret     string
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Verifier checks hCaptcha proofs against the siteverify endpoint. With no
// secret configured, verification is skipped and always passes; that is the
// documented weakening for non-production deployments.
type Verifier struct {
	secret     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewVerifier constructs a Verifier with conservative HTTP timeouts.
func NewVerifier(cfg VerifierConfig) *Verifier {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Verifier{
		secret:     strings.TrimSpace(cfg.Secret),
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Enabled reports whether a verification secret is configured.
func (v *Verifier) Enabled() bool {
	return v.secret != ""
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify validates the presented proof. A disabled verifier accepts every
// request; an enabled one fails closed on any transport or service error.
func (v *Verifier) Verify(ctx context.Context, proof string) error {
	if !v.Enabled() {
		v.logger.Debug("captcha secret not configured, verification skipped")
		return nil
	}
	if strings.TrimSpace(proof) == "" {
		return errMissingToken
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", proof)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := v.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: siteverify returned status %d", ErrVerificationUnavailable, response.StatusCode)
	}

	var verdict siteverifyResponse
	if err := json.NewDecoder(response.Body).Decode(&verdict); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}

	if !verdict.Success {
		v.logger.Info("captcha proof rejected", zap.Strings("error_codes", verdict.ErrorCodes))
		return ErrVerificationFailed
	}
	return nil
}
