package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Remote API paths, relative to api_base_url.
const (
	EndpointLogin          = "auth/login/"
	EndpointRefresh        = "auth/refresh/"
	EndpointCurrentUser    = "auth/me/"
	EndpointSendEmail      = "auth/send-email/"
	EndpointVerifyPIN      = "auth/verify-pin/"
	EndpointHistory        = "auth/history/"
	EndpointInitiateSMS    = "verification/initiate/"
	EndpointConfirmSMS     = "verification/confirm/"
	EndpointHealth         = "verification/health/"
	EndpointMerchantSearch = "merchants/merchants/universal_search/"
)

// Origin returns scheme://host of the API base.
func (s ServerConfig) Origin() (string, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// RealtimeURL builds the push channel address for a user.
func (s ServerConfig) RealtimeURL(userID, token string) (string, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	trim := func(p string) string { return strings.TrimSuffix(strings.TrimSuffix(p, "/"), "/api") }
	// Path holds the id as is; RawPath keeps a '/' inside it escaped
	u.Path = fmt.Sprintf("%s/ws/auth/%s/", trim(u.Path), userID)
	u.RawPath = fmt.Sprintf("%s/ws/auth/%s/", trim(u.EscapedPath()), url.PathEscape(userID))
	u.RawQuery = url.Values{"token": []string{token}}.Encode()
	return u.String(), nil
}
