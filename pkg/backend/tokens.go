package backend

import (
	"encoding/json"
	"net/http"

	"tutorbff/pkg/user"
)

type authPayload struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	Access       string          `json:"access"`
	Refresh      string          `json:"refresh"`
	User         json.RawMessage `json:"user"`
}

func decodePayload(body []byte) authPayload {
	var p authPayload
	_ = json.Unmarshal(body, &p)
	return p
}

// ExtractTokens reads the credential pair from an auth response. JSON body
// fields win over Set-Cookie headers.
func ExtractTokens(resp *Response) Tokens {
	p := decodePayload(resp.Body)
	t := Tokens{Access: first(p.AccessToken, p.Access), Refresh: first(p.RefreshToken, p.Refresh)}
	if t.Access != "" && t.Refresh != "" {
		return t
	}

	for _, c := range (&http.Response{Header: resp.Header}).Cookies() {
		switch c.Name {
		case accessCookie:
			if t.Access == "" {
				t.Access = c.Value
			}
		case refreshCookie:
			if t.Refresh == "" {
				t.Refresh = c.Value
			}
		}
	}
	return t
}

// ExtractUser reads the user snapshot from a login response: either the
// "user" member or, failing that, the whole body.
func ExtractUser(resp *Response) (*user.User, error) {
	p := decodePayload(resp.Body)
	if len(p.User) > 0 && string(p.User) != "null" {
		return user.Parse(p.User)
	}
	return user.Parse(resp.Body)
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
