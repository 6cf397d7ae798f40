package accounts

import (
	"fmt"
	"net/url"
	"strings"
)

// Proxy routes one account's upstream traffic through a forward proxy.
// Accounts on distinct residential proxies look like distinct clients to
// the provider.
type Proxy struct {
	// Type is one of "socks5", "http", or "https".
	Type string `json:"type"`

	// Host is the proxy hostname or address.
	Host string `json:"host"`

	// Port is the proxy port.
	Port int `json:"port"`

	// Username and Password are optional proxy credentials.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Validate checks the proxy configuration.
func (p *Proxy) Validate() error {
	switch p.Type {
	case "socks5", "http", "https":
	default:
		return fmt.Errorf("accounts: unsupported proxy type %q", p.Type)
	}
	if p.Host == "" {
		return fmt.Errorf("accounts: proxy host is required")
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("accounts: proxy port %d out of range", p.Port)
	}
	return nil
}

// URL builds the proxy URL for an HTTP transport. SOCKS5 uses the
// socks5h scheme so DNS resolution happens on the proxy side.
func (p *Proxy) URL() (*url.URL, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	scheme := p.Type
	if scheme == "socks5" {
		scheme = "socks5h"
	}

	u := &url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != "" && p.Password != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}

// Masked renders the proxy for logs with credentials obscured.
func (p *Proxy) Masked() string {
	if p == nil {
		return "no proxy"
	}
	if err := p.Validate(); err != nil {
		return "invalid proxy config"
	}

	desc := fmt.Sprintf("%s://%s:%d", p.Type, p.Host, p.Port)
	if p.Username != "" && p.Password != "" {
		desc += fmt.Sprintf(" (auth: %s:%s)", maskUsername(p.Username), strings.Repeat("*", min(8, len(p.Password))))
	}
	return desc
}

// maskUsername keeps the first and last character visible.
func maskUsername(username string) string {
	if len(username) <= 2 {
		return username
	}
	return username[:1] + strings.Repeat("*", len(username)-2) + username[len(username)-1:]
}
