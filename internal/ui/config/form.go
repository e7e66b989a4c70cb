package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/teamboard/internal/model"
)

// Values holds what the setup form edits. Apply copies it back into a
// config once the form completes.
type Values struct {
	BaseURL   string
	SocketURL string
	Transport string
	RedisURL  string
	Token     string
}

// FromConfig seeds the form with the current settings.
func FromConfig(cfg *model.AppConfig) *Values {
	return &Values{
		BaseURL:   cfg.Server.BaseURL,
		SocketURL: cfg.Server.SocketURL,
		Transport: cfg.Realtime.Transport,
		RedisURL:  cfg.Realtime.RedisURL,
	}
}

// Apply writes the edited connection settings into cfg and validates it.
func (v *Values) Apply(cfg *model.AppConfig) error {
	cfg.Server.BaseURL = strings.TrimSpace(v.BaseURL)
	cfg.Server.SocketURL = strings.TrimSpace(v.SocketURL)
	cfg.Realtime.Transport = v.Transport
	cfg.Realtime.RedisURL = strings.TrimSpace(v.RedisURL)
	return cfg.Validate()
}

// NewSetupForm edits the server and realtime settings.
func NewSetupForm(v *Values) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server URL").
				Description("REST base URL (e.g., https://teamboard.example.com/api)").
				Placeholder("https://teamboard.example.com/api").
				Value(&v.BaseURL).
				Validate(validateURL("http", "https")),
			huh.NewInput().
				Title("Socket URL").
				Description("Leave empty to derive it from the server URL").
				Value(&v.SocketURL).
				Validate(optional(validateURL("ws", "wss"))),
			huh.NewSelect[string]().
				Title("Realtime transport").
				Options(
					huh.NewOption("WebSocket - connect to the server directly", model.TransportWebSocket),
					huh.NewOption("Redis - subscribe to the server's relay", model.TransportRedis),
				).
				Value(&v.Transport),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Redis URL").
				Placeholder("redis://localhost:6379/0").
				Value(&v.RedisURL).
				Validate(validateURL("redis", "rediss")),
		).WithHideFunc(func() bool { return v.Transport != model.TransportRedis }),
	)
}

// NewLoginForm asks for an access token.
func NewLoginForm(v *Values) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Access token").
				Description("Issued by your teamboard server").
				EchoMode(huh.EchoModePassword).
				Value(&v.Token).
				Validate(validateRequired("Token")),
		),
	)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func optional(fn func(string) error) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return fn(s)
	}
}

func validateURL(schemes ...string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("URL is required")
		}
		parsed, err := url.Parse(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid URL: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("URL must include scheme and host (e.g., %s://example.com)", schemes[0])
		}
		for _, scheme := range schemes {
			if parsed.Scheme == scheme {
				return nil
			}
		}
		return fmt.Errorf("URL scheme must be one of %s", strings.Join(schemes, ", "))
	}
}
