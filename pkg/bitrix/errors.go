package bitrix

import "fmt"

// APIError is the error envelope Bitrix24 returns in the response body
// even on HTTP 200.
type APIError struct {
	Code             string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e APIError) IsZero() bool {
	return e.Code == "" && e.ErrorDescription == ""
}

// IsAuthExpired reports whether the error means the access token must
// be refreshed.
func (e APIError) IsAuthExpired() bool {
	return e.Code == "expired_token" || e.Code == "invalid_token"
}

func (e APIError) Error() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("bitrix api error: %s (%s)", e.Code, e.ErrorDescription)
	}
	return fmt.Sprintf("bitrix api error: %s", e.Code)
}
