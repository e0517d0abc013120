// Package hrmesh is the resilient cross-service communication layer for a
// multi-service backend: a reverse proxy with service-discovery-driven load
// balancing and circuit breaking on the synchronous HTTP path, and a
// correlated request/response bridge built on top of an asynchronous message
// bus on the data-fetch path. A service that needs records but has no direct
// database access asks for them over pub/sub and behaves as if it made a
// normal call.
//
// Service wires all components from a single Config: the transport (Kafka,
// RabbitMQ, AWS SNS/SQS, NATS, or in-memory Go channels), the Watermill bus
// router, the instance registry with its health prober, per-service circuit
// breakers, the adaptive rate limiter, the gateway, and the RPC bridge. A
// minimal setup fills Config, creates a Service, registers instances, and
// calls Start; see the examples directory.
//
// # Gateway
//
// The gateway maps path prefixes to logical services (for example
// "/x/employees" to "employee"), selects the healthy instance with the
// lowest load score, and forwards the request with the original method,
// headers, and body. Rejections are rendered uniformly as
// {"data": null, "errors": [{code, message, retryAfter?, loadFactor?}]}.
//
// # Circuit breaking
//
// Each logical service gets a breaker that opens after a run of failures
// and fails fast with a retry hint while open. After the cooldown a single
// probe request is let through; its outcome closes or re-opens the circuit.
//
// # Adaptive rate limiting
//
// Quota windows exist per category (global, identity, credential) and their
// limits scale with an external load signal: heavy load halves them, light
// load grows them. The key for a request is the authenticated identity,
// falling back to the credential and finally the origin address.
//
// # RPC bridge
//
// Fetch publishes a correlated request event and blocks until the matching
// reply arrives or the deadline passes. The serving side registers a
// FetchHandler, which consumes request events and publishes correlated
// replies. Late or unmatched replies are logged and dropped.
package hrmesh
