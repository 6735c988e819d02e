// Package server implements the HTTP surface of a monitoring session: the
// embedded dashboard page, JSON endpoints for latest values, series history,
// parameters and chart frames, and two live streams (Server-Sent Events and
// WebSocket) fed by the store hub.
//
// The server is read-mostly and stateless; every response is computed fresh
// from the session store. Users of the labwatch library should not need to
// interact with this package directly.
package server
