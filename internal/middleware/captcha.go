package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"authsvc/internal/apperr"
)

type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type captchaBody struct {
	Captcha struct {
		Token string `json:"token"`
	} `json:"captcha"`
}

// Captcha requires a valid `captcha.token` in the JSON body. The body is
// restored for the handler.
func Captcha(verifier CaptchaVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				AbortWithError(c, apperr.New(apperr.RequestTooLarge, ""))
				return
			}
			AbortWithError(c, apperr.Wrap(err, apperr.BadRequest, "Invalid request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		var body captchaBody
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				AbortWithError(c, apperr.Wrap(err, apperr.BadRequest, "Invalid request body"))
				return
			}
		}

		if err := verifier.Verify(c.Request.Context(), body.Captcha.Token, c.ClientIP()); err != nil {
			var coded *apperr.Error
			if !errors.As(err, &coded) {
				err = apperr.Wrap(err, apperr.CaptchaFailed, "")
			}
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
