package hrmesh

import (
	runtimepkg "github.com/hrmesh/hrmesh/internal/runtime"
	breakerpkg "github.com/hrmesh/hrmesh/internal/runtime/breaker"
	bridgepkg "github.com/hrmesh/hrmesh/internal/runtime/bridge"
	configpkg "github.com/hrmesh/hrmesh/internal/runtime/config"
	envelopepkg "github.com/hrmesh/hrmesh/internal/runtime/envelope"
	errspkg "github.com/hrmesh/hrmesh/internal/runtime/errors"
	idspkg "github.com/hrmesh/hrmesh/internal/runtime/ids"
	loggingpkg "github.com/hrmesh/hrmesh/internal/runtime/logging"
	proxypkg "github.com/hrmesh/hrmesh/internal/runtime/proxy"
	ratelimitpkg "github.com/hrmesh/hrmesh/internal/runtime/ratelimit"
	registrypkg "github.com/hrmesh/hrmesh/internal/runtime/registry"
	transportpkg "github.com/hrmesh/hrmesh/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	// Service registry and selection
	Instance      = registrypkg.Instance
	ServiceHealth = registrypkg.ServiceHealth

	// Circuit breaker
	CircuitState  = breakerpkg.State
	BreakerConfig = breakerpkg.Config

	// Adaptive rate limiting
	RateLimitCategory = ratelimitpkg.Category

	// Bus envelope and bridge
	Event        = envelopepkg.Event
	FetchRequest = bridgepkg.FetchRequest
	FetchHandler = bridgepkg.HandlerFunc

	// Structured errors
	Error     = errspkg.Error
	ErrorCode = errspkg.Code

	// Logging
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Modular transports
	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
)

// Circuit breaker states.
const (
	CircuitClosed   = breakerpkg.StateClosed
	CircuitOpen     = breakerpkg.StateOpen
	CircuitHalfOpen = breakerpkg.StateHalfOpen
)

// Rate limit categories.
const (
	CategoryGlobal     = ratelimitpkg.CategoryGlobal
	CategoryIdentity   = ratelimitpkg.CategoryIdentity
	CategoryCredential = ratelimitpkg.CategoryCredential
)

// Error codes carried by rejections and bridge failures.
const (
	CodeUnroutable         = errspkg.CodeUnroutable
	CodeServiceUnavailable = errspkg.CodeServiceUnavailable
	CodeCircuitOpen        = errspkg.CodeCircuitOpen
	CodeRateLimitExceeded  = errspkg.CodeRateLimitExceeded
	CodeTimeout            = errspkg.CodeTimeout
	CodeShuttingDown       = errspkg.CodeShuttingDown
)

// Request headers the gateway reads to derive the rate limit key.
const (
	HeaderIdentity   = proxypkg.HeaderIdentity
	HeaderCredential = proxypkg.HeaderCredential
)

// LoadScoreHeader is the response header health probes read to learn an
// instance's current load.
const LoadScoreHeader = registrypkg.LoadScoreHeader

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig

	// Envelope constructors
	NewEvent   = envelopepkg.New
	NewRequest = envelopepkg.NewRequest
	NewReply   = envelopepkg.NewReply

	// Reply payload decoding
	DecodeData = bridgepkg.DecodeData

	// Identifier helpers
	CreateULID          = idspkg.CreateULID
	CreateCorrelationID = idspkg.CreateCorrelationID

	// Error inspection
	CodeOf  = errspkg.CodeOf
	AsError = errspkg.AsError

	// Logging constructors
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	// Transport registration for custom backends
	RegisterTransport                 = transportpkg.Register
	RegisterTransportWithCapabilities = transportpkg.RegisterWithCapabilities
	GetTransportCapabilities          = transportpkg.GetCapabilities
)
