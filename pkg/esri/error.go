package esri

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RESTError is the application-level error envelope the platform returns
// inside an HTTP 200 body.
type RESTError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (e *RESTError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("rest error %d: %s (%s)", e.Code, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("rest error %d: %s", e.Code, e.Message)
}

// authCodes are the application codes that indicate a missing, expired or
// rejected token.
var authCodes = map[int]bool{401: true, 403: true, 498: true, 499: true}

// IsAuthCode reports whether a REST error code denotes an authentication
// failure eligible for a one-shot token refresh.
func IsAuthCode(code int) bool {
	return authCodes[code]
}

// IsAuthError reports whether err wraps a RESTError with an auth code.
func IsAuthError(err error) bool {
	var re *RESTError
	return errors.As(err, &re) && IsAuthCode(re.Code)
}

type errorEnvelope struct {
	Error *restErrorDoc `json:"error"`
}

type restErrorDoc struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// ExtractError decodes the {"error": {...}} envelope from a response body.
// It returns nil when the body carries no error member. Detail entries that
// are not plain strings are re-encoded so nothing is silently dropped.
func ExtractError(body []byte) *RESTError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return nil
	}
	re := &RESTError{Code: env.Error.Code, Message: env.Error.Message}
	if len(env.Error.Details) > 0 {
		var details []string
		if err := json.Unmarshal(env.Error.Details, &details); err == nil {
			re.Details = details
		} else {
			re.Details = []string{string(env.Error.Details)}
		}
	}
	return re
}
