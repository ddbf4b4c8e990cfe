package internal

import "github.com/starford/ansuz/internal/ai"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	suite  *ai.Suite
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithAI overrides the collaborator suite. The default is the offline
// heuristic suite.
func WithAI(suite ai.Suite) Option {
	return func(a *application) {
		a.suite = &suite
	}
}
