package http2

import (
	"time"

	"github.com/valyala/fasthttp"
)

// Logger is the structured logging sink the engine writes connection- and
// stream-lifecycle events to. internal/h2log provides a logrus-backed
// implementation; the zero value Config uses noopLogger so the core stays
// silent unless a driver wires one in (mirrors serverConn.go's
// debug bool / fasthttp.Logger pair).
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// Config holds the engine's tunable parameters (spec §6's "Configuration
// options"). Zero value is not meaningful; use NewConfig, which applies
// RFC 7540 §11.3 defaults, then layer Option values on top.
//
// Grounded on the teacher's ServerConfig/ConfigureServer functional-options
// pattern (fasthttp2/server.go, configure.go's Dialer options).
type Config struct {
	// ReadBufferSize is the initial SETTINGS_MAX_FRAME_SIZE we advertise.
	ReadBufferSize uint32
	// MaxConcurrentStreams is enforced against the remote peer.
	MaxConcurrentStreams uint32
	// InitialWindowSize is the SETTINGS value we advertise; if above
	// 65535, a connection-level WINDOW_UPDATE closes the gap at preface
	// time (spec §4.5).
	InitialWindowSize uint32
	// RequestBodyBufferSize is the default allocation when content-length
	// is absent or unknown.
	RequestBodyBufferSize int
	// ResponseBodyBufferSize is the allocation per Active stream's
	// response body.
	ResponseBodyBufferSize int
	// EnableServerPush sets our SETTINGS_ENABLE_PUSH value.
	EnableServerPush bool

	// MaxIdleTime and MaxRequestTime are ambient timeouts for the
	// driver (not the core, which owns no timers - see SPEC_FULL.md §C.4),
	// grounded on serverConn.go's maxIdleTimer/maxRequestTimer. netdriver
	// reads MaxIdleTime and PingInterval; it does not read MaxRequestTime,
	// so per-request timeouts are not enforced.
	MaxIdleTime    time.Duration
	MaxRequestTime time.Duration
	PingInterval   time.Duration

	// ErrorHandler synthesizes a response body for Application errors
	// (Bad_request, Internal_server_error). Defaults to writing the error
	// text and closing, per spec §6.
	ErrorHandler func(req *fasthttp.RequestHeader, err error, body *BodyBuffer)

	// ConnectionErrorHook receives the *ConnectionError itself (no stream
	// id) for connection-level errors, right before the GOAWAY is written
	// (§9 Open Question, resolved in SPEC_FULL.md §D): purely for
	// observability, since there is no stream to attach a response to.
	ConnectionErrorHook func(err *ConnectionError)

	Logger Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// NewConfig builds a Config with RFC 7540 §11.3 defaults, then applies
// opts in order.
func NewConfig(opts ...Option) *Config {
	c := &Config{
		ReadBufferSize:         DefaultMaxFrameSize,
		MaxConcurrentStreams:   DefaultMaxConcurrentStreams,
		InitialWindowSize:      DefaultInitialWindowSize,
		RequestBodyBufferSize:  64 * 1024,
		ResponseBodyBufferSize: 64 * 1024,
		EnableServerPush:       true,
		MaxIdleTime:            0,
		MaxRequestTime:         0,
		PingInterval:           0,
		ErrorHandler: func(_ *fasthttp.RequestHeader, err error, body *BodyBuffer) {
			body.Write([]byte(err.Error()))
			body.CloseWriter()
		},
		Logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	return c
}

func WithMaxConcurrentStreams(n uint32) Option {
	return func(c *Config) { c.MaxConcurrentStreams = n }
}

func WithInitialWindowSize(n uint32) Option {
	return func(c *Config) { c.InitialWindowSize = n }
}

func WithReadBufferSize(n uint32) Option {
	return func(c *Config) { c.ReadBufferSize = n }
}

func WithRequestBodyBufferSize(n int) Option {
	return func(c *Config) { c.RequestBodyBufferSize = n }
}

func WithResponseBodyBufferSize(n int) Option {
	return func(c *Config) { c.ResponseBodyBufferSize = n }
}

func WithServerPush(enabled bool) Option {
	return func(c *Config) { c.EnableServerPush = enabled }
}

func WithMaxIdleTime(d time.Duration) Option {
	return func(c *Config) { c.MaxIdleTime = d }
}

func WithMaxRequestTime(d time.Duration) Option {
	return func(c *Config) { c.MaxRequestTime = d }
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Config) { c.PingInterval = d }
}

func WithConnectionErrorHook(f func(*ConnectionError)) Option {
	return func(c *Config) { c.ConnectionErrorHook = f }
}

func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}
