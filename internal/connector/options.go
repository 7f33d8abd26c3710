package connector

import (
	"log/slog"

	"azflow/internal/config"
	"azflow/internal/credential"
)

// Options holds collaborators shared by every connector kind.
type Options struct {
	Kind       string
	Name       string
	Local      bool
	Lookup     config.Lookup
	Credential credential.Provider
	Observer   Observer
	Logger     *slog.Logger
}

// Option configures a connector.
type Option func(*Options)

// WithName sets the instance name reported to observers and logs.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithKind overrides the registered type name reported by Kind.
func WithKind(kind string) Option {
	return func(o *Options) { o.Kind = kind }
}

// Local marks a connector backed by a local emulator. Account credentials
// are not required and no credential is acquired unless one is given.
func Local() Option {
	return func(o *Options) { o.Local = true }
}

// WithLookup sets the fallback source for missing configuration values.
func WithLookup(lookup config.Lookup) Option {
	return func(o *Options) { o.Lookup = lookup }
}

// WithCredential replaces the connector's default credential provider.
func WithCredential(p credential.Provider) Option {
	return func(o *Options) { o.Credential = p }
}

// WithObserver sets the lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// ApplyOptions returns options with defaults filled in: environment lookup,
// no-op observer and the default logger.
func ApplyOptions(opts []Option) Options {
	o := Options{
		Lookup:   config.EnvLookup,
		Observer: Nop,
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Lookup == nil {
		o.Lookup = config.EnvLookup
	}
	if o.Observer == nil {
		o.Observer = Nop
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
