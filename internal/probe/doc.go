// Package probe provides the HTTP client used to sample networked
// instruments.
//
// Laboratory hardware increasingly exposes readings over plain HTTP (JSON
// documents, raw numbers, status pages). This package handles the transport
// side only: bounded-size fetches with per-request timeouts and connection
// pooling. Turning a response body into a numeric reading is the job of the
// value extractors in the root labwatch package.
//
// Users of the labwatch library should not need to interact with this
// package directly.
package probe
