package handler

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Hours accepts either a JSON number or a JSON string so that both
// {"expires_in": 24} and {"expires_in": "never"} bind.
type Hours string

func (h *Hours) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*h = Hours(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*h = Hours(n.String())
	return nil
}

// UnmarshalParam binds form and query values.
func (h *Hours) UnmarshalParam(param string) error {
	*h = Hours(param)
	return nil
}

func (h *Hours) ptr() *string {
	if h == nil {
		return nil
	}
	s := string(*h)
	return &s
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

type CreateLinkRequest struct {
	URL       string `json:"url" form:"url" validate:"max=2048"`
	Alias     string `json:"alias" form:"custom_alias"`
	ExpiresIn Hours  `json:"expires_in" form:"expires_in"`
}

type UpdateLinkRequest struct {
	URL       *string `json:"url" form:"url" validate:"omitempty,max=2048"`
	ExpiresIn *Hours  `json:"expires_in" form:"expires_in"`
}

type SignupRequest struct {
	Name     string `json:"name" form:"name" validate:"required,max=100"`
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" form:"email" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}
