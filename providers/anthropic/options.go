package anthropic

// Option configures a Provider.
type Option func(*Provider)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithBaseURL overrides the default base URL. Empty values are ignored.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithAPIVersion overrides the anthropic-version header.
func WithAPIVersion(version string) Option {
	return func(p *Provider) {
		if version != "" {
			p.apiVersion = version
		}
	}
}

// WithModels sets the explicit model list.
func WithModels(models ...string) Option {
	return func(p *Provider) {
		p.models = models
	}
}
