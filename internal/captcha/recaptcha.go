// Package captcha verifies bot-protection tokens submitted with public auth
// forms.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"authsvc/internal/apperr"
	"authsvc/internal/config"
)

type siteVerifyResponse struct {
	Success     bool     `json:"success"`
	ErrorCodes  []string `json:"error-codes"`
	Hostname    string   `json:"hostname"`
	ChallengeTS string   `json:"challenge_ts"`
}

// Recaptcha checks tokens against a reCAPTCHA siteverify endpoint.
type Recaptcha struct {
	endpoint string
	secret   string
	client   *http.Client
	log      zerolog.Logger
}

func NewRecaptcha(cfg config.CaptchaConfig, log zerolog.Logger) *Recaptcha {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recaptcha{
		endpoint: cfg.VerifyURL,
		secret:   cfg.SecretKey,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

func (r *Recaptcha) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.New(apperr.CaptchaInvalidToken, "")
	}

	form := url.Values{"secret": {r.secret}, "response": {token}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return apperr.Wrap(err, apperr.CaptchaFailed, "")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return apperr.Wrap(fmt.Errorf("siteverify: %w", err), apperr.CaptchaFailed, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperr.Wrap(fmt.Errorf("siteverify status %d", resp.StatusCode), apperr.CaptchaFailed, "")
	}

	var body siteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return apperr.Wrap(fmt.Errorf("decode siteverify: %w", err), apperr.CaptchaFailed, "")
	}
	if !body.Success {
		r.log.Warn().
			Strs("error_codes", body.ErrorCodes).
			Str("hostname", body.Hostname).
			Msg("captcha validation failed")
		return apperr.New(apperr.CaptchaFailed, "")
	}

	r.log.Debug().Str("hostname", body.Hostname).Str("challenge_ts", body.ChallengeTS).Msg("captcha validated")
	return nil
}
