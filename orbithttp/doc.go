// Package orbithttp connects orbit recorders to net/http. Middleware and
// Transport capture inbound requests and outbound calls, and Server exposes
// recorded entries over a JSON API with a live event stream.
package orbithttp
