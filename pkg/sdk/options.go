package omnidex

import "go.uber.org/zap"

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "badger" or "redis"
	path     string
	inMemory bool
	addrs    []string
	password string

	maxPerPage int

	logger *zap.Logger
}

// WithBadger configures the client for an embedded badger store at path.
func WithBadger(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "badger"
		c.path = path
	})
}

// WithInMemoryStore configures an ephemeral in-process store (tests, demos).
func WithInMemoryStore() Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "badger"
		c.inMemory = true
	})
}

// WithRedis configures the client to connect to a Redis instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithLogger sets the logger (zap.NewNop by default).
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = logger
	})
}

// WithMaxPerPage overrides the per-page ceiling of searches.
func WithMaxPerPage(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxPerPage = n
	})
}
