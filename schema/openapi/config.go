package openapi

import "strings"

type generatorConfig struct {
	openAPIVersion string
	info           openapiInfo
	basePath       string
	servers        []string
	policies       []string
}

type openapiInfo struct {
	Title       string
	Version     string
	Description string
}

func newGeneratorConfig(opts []Option) generatorConfig {
	cfg := generatorConfig{
		openAPIVersion: "3.0.3",
		info:           openapiInfo{Title: "Sync State API", Version: "1.0.0"},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cfg.basePath = strings.TrimRight(cfg.basePath, "/")
	return cfg
}

// Option configures the generated document.
type Option func(*generatorConfig)

// WithOpenAPIVersion overrides the OpenAPI version string (default: 3.0.3).
func WithOpenAPIVersion(version string) Option {
	return func(cfg *generatorConfig) {
		if version != "" {
			cfg.openAPIVersion = version
		}
	}
}

// InfoOption configures optional fields of the info section.
type InfoOption func(*openapiInfo)

func WithInfoDescription(description string) InfoOption {
	return func(info *openapiInfo) {
		info.Description = description
	}
}

// WithInfo sets the API title and version. Empty strings keep the defaults.
func WithInfo(title, version string, opts ...InfoOption) Option {
	return func(cfg *generatorConfig) {
		if title != "" {
			cfg.info.Title = title
		}
		if version != "" {
			cfg.info.Version = version
		}
		for _, opt := range opts {
			if opt != nil {
				opt(&cfg.info)
			}
		}
	}
}

// WithBasePath prefixes every path, for routers mounted below the root.
func WithBasePath(prefix string) Option {
	return func(cfg *generatorConfig) {
		cfg.basePath = prefix
	}
}

// WithServers lists the base URLs the API is reachable at.
func WithServers(urls ...string) Option {
	return func(cfg *generatorConfig) {
		for _, url := range urls {
			if url = strings.TrimSpace(url); url != "" {
				cfg.servers = append(cfg.servers, url)
			}
		}
	}
}

// WithPolicies restricts the {policy} path parameter to names.
func WithPolicies(names ...string) Option {
	return func(cfg *generatorConfig) {
		cfg.policies = append(cfg.policies, names...)
	}
}
