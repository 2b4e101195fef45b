package provider

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	FieldClaudeEnv       = "env"
	FieldClaudeAuthToken = "ANTHROPIC_AUTH_TOKEN"
	FieldClaudeBaseURL   = "ANTHROPIC_BASE_URL"
	FieldCodexAuth       = "auth"
	FieldCodexAPIKey     = "OPENAI_API_KEY"
	FieldCodexConfig     = "config"
	FieldCodexBaseURL    = "base_url"
)

var (
	ErrMissingField     = errors.New("missing field")
	ErrMalformedConfig  = errors.New("malformed config")
	ErrBaseURLNotFound  = errors.New("base_url not found in config text")
	ErrBaseURLMalformed = errors.New("base_url assignment is malformed")
)

// First match wins when the text assigns base_url more than once.
var codexBaseURLPattern = regexp.MustCompile(`base_url\s*=\s*["']([^"']+)["']`)

type Credentials struct {
	APIKey  string
	BaseURL string
}

// ExtractionError reports why a provider's settings did not yield
// credentials. Err is one of the package sentinels.
type ExtractionError struct {
	Provider string
	Field    string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Field, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ExtractCredentials reads the API key and base URL that kind expects in
// p.SettingsConfig.
func ExtractCredentials(p Provider, kind AppKind) (Credentials, error) {
	switch kind {
	case AppClaude:
		return extractClaude(p)
	case AppCodex:
		return extractCodex(p)
	default:
		return Credentials{}, fmt.Errorf("unknown app %q", kind)
	}
}

func extractClaude(p Provider) (Credentials, error) {
	env := gjson.GetBytes(p.SettingsConfig, FieldClaudeEnv)
	if !env.IsObject() {
		return Credentials{}, &ExtractionError{Provider: p.Name, Field: FieldClaudeEnv, Err: ErrMalformedConfig}
	}
	token, err := stringField(p, env, FieldClaudeAuthToken)
	if err != nil {
		return Credentials{}, err
	}
	baseURL, err := stringField(p, env, FieldClaudeBaseURL)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{APIKey: token, BaseURL: baseURL}, nil
}

func extractCodex(p Provider) (Credentials, error) {
	auth := gjson.GetBytes(p.SettingsConfig, FieldCodexAuth)
	if !auth.IsObject() {
		return Credentials{}, &ExtractionError{Provider: p.Name, Field: FieldCodexAuth, Err: ErrMalformedConfig}
	}
	key, err := stringField(p, auth, FieldCodexAPIKey)
	if err != nil {
		return Credentials{}, err
	}
	baseURL, err := CodexBaseURL(gjson.GetBytes(p.SettingsConfig, FieldCodexConfig).Str)
	if err != nil {
		return Credentials{}, &ExtractionError{Provider: p.Name, Field: FieldCodexBaseURL, Err: err}
	}
	return Credentials{APIKey: key, BaseURL: baseURL}, nil
}

// CodexBaseURL pulls the quoted base_url assignment out of Codex config
// text.
func CodexBaseURL(configText string) (string, error) {
	if !strings.Contains(configText, FieldCodexBaseURL) {
		return "", ErrBaseURLNotFound
	}
	m := codexBaseURLPattern.FindStringSubmatch(configText)
	if m == nil {
		return "", ErrBaseURLMalformed
	}
	return m[1], nil
}

func stringField(p Provider, obj gjson.Result, name string) (string, error) {
	// Get with a literal key; names never contain path syntax.
	v := obj.Get(gjson.Escape(name))
	if v.Type != gjson.String {
		return "", &ExtractionError{Provider: p.Name, Field: name, Err: ErrMissingField}
	}
	return v.Str, nil
}
