package apperr

import "net/http"

type Entry struct {
	Status  int
	Message string
}

var registry = map[Code]Entry{
	Unauthorized:        {http.StatusUnauthorized, "Authentication required"},
	Forbidden:           {http.StatusForbidden, "Access denied"},
	InvalidCredentials:  {http.StatusUnauthorized, "Invalid email or password"},
	EmailAlreadyInUse:   {http.StatusConflict, "Email is already in use"},
	AlreadyVerified:     {http.StatusBadRequest, "Email is already verified"},
	TokenNotFound:       {http.StatusBadRequest, "Token not found"},
	TokenAlreadyUsed:    {http.StatusBadRequest, "Token has already been used"},
	TokenDeprecated:     {http.StatusGone, "Token has been replaced by a newer one"},
	TokenExpired:        {http.StatusUnauthorized, "Token has expired"},
	TokenTypeMismatch:   {http.StatusBadRequest, "Token type mismatch"},
	InvalidRefreshToken: {http.StatusUnauthorized, "Invalid refresh token"},
	RefreshTokenExpired: {http.StatusUnauthorized, "Refresh token has expired"},
	RefreshTokenRevoked: {http.StatusUnauthorized, "Refresh token has been revoked"},
	MissingRefreshToken: {http.StatusBadRequest, "Refresh token is required"},
	CaptchaInvalidToken: {http.StatusBadRequest, "Invalid captcha token"},
	CaptchaFailed:       {http.StatusBadRequest, "Captcha validation failed"},
	ValidationError:     {http.StatusBadRequest, "Validation failed"},
	BadRequest:          {http.StatusBadRequest, "Bad request"},
	RequestTooLarge:     {http.StatusRequestEntityTooLarge, "Request body too large"},
	RateLimited:         {http.StatusTooManyRequests, "Too many requests, please try again later"},
	NotFound:            {http.StatusNotFound, "Resource not found"},
	InternalError:       {http.StatusInternalServerError, "Internal server error"},
}

// Lookup returns the registry entry for code. Unknown codes resolve to the
// InternalError entry.
func Lookup(code Code) Entry {
	if entry, ok := registry[code]; ok {
		return entry
	}
	return registry[InternalError]
}

func StatusOf(err error) int {
	return Lookup(CodeOf(err)).Status
}

// Codes lists every registered code.
func Codes() []Code {
	out := make([]Code, 0, len(registry))
	for code := range registry {
		out = append(out, code)
	}
	return out
}
