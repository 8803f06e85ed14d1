package settings

import (
	"net/http"
	"time"

	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

const (
	OpenAIAPIKeySlug  = "openai-api-key"
	OpenAIBaseURLSlug = "openai-base-url"

	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// APISettings holds credentials and endpoints, keyed by slug (see OpenAIAPIKeySlug).
type APISettings struct {
	APIKeys  map[string]string `yaml:"api_keys,omitempty"`
	BaseUrls map[string]string `yaml:"base_urls,omitempty"`
}

func NewAPISettings() *APISettings {
	return &APISettings{
		APIKeys:  map[string]string{},
		BaseUrls: map[string]string{},
	}
}

func (a *APISettings) Clone() *APISettings {
	return clone.Clone(a).(*APISettings)
}

// APIKey returns the key stored under slug, or "".
func (a *APISettings) APIKey(slug string) string {
	if a == nil {
		return ""
	}
	return a.APIKeys[slug]
}

// BaseURL returns the URL stored under slug, or def.
func (a *APISettings) BaseURL(slug string, def string) string {
	if a == nil {
		return def
	}
	if v, ok := a.BaseUrls[slug]; ok && v != "" {
		return v
	}
	return def
}

type ClientSettings struct {
	Timeout        *time.Duration `yaml:"-"`
	TimeoutSeconds *int           `yaml:"timeout,omitempty"`
	HTTPClient     *http.Client   `yaml:"-" json:"-"`
	// AllowLocalEndpoints permits plain http and local network base URLs (proxies, local servers).
	AllowLocalEndpoints bool `yaml:"allow_local_endpoints,omitempty"`
	// MockFragmentDelay slows down the streamed fragments of the mock backend.
	MockFragmentDelay time.Duration `yaml:"mock_fragment_delay,omitempty"`
}

// UnmarshalYAML reads timeout as a number of seconds.
func (cs *ClientSettings) UnmarshalYAML(value *yaml.Node) error {
	type Alias ClientSettings
	aux := (*Alias)(cs)
	if err := value.Decode(aux); err != nil {
		return err
	}
	if cs.TimeoutSeconds != nil {
		t := time.Duration(*cs.TimeoutSeconds) * time.Second
		cs.Timeout = &t
	}
	return nil
}

func (cs *ClientSettings) Clone() *ClientSettings {
	ret := &ClientSettings{
		HTTPClient:          cs.HTTPClient,
		AllowLocalEndpoints: cs.AllowLocalEndpoints,
		MockFragmentDelay:   cs.MockFragmentDelay,
	}
	if cs.Timeout != nil {
		t := *cs.Timeout
		ret.Timeout = &t
	}
	if cs.TimeoutSeconds != nil {
		s := *cs.TimeoutSeconds
		ret.TimeoutSeconds = &s
	}
	return ret
}

// GetHTTPClient returns the configured client, or a new one honoring Timeout.
func (cs *ClientSettings) GetHTTPClient() *http.Client {
	if cs == nil {
		return &http.Client{}
	}
	if cs.HTTPClient != nil {
		return cs.HTTPClient
	}
	c := &http.Client{}
	if cs.Timeout != nil {
		c.Timeout = *cs.Timeout
	}
	return c
}

func NewClientSettings() *ClientSettings {
	defaultTimeout := 60 * time.Second
	return &ClientSettings{
		Timeout: &defaultTimeout,
		TimeoutSeconds: func() *int {
			i := int(defaultTimeout.Seconds())
			return &i
		}(),
	}
}
