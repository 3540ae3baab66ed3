// Package streaminghttp implements the session-based streaming transport.
//
// A client opens a long-lived event channel with GET on the SSE endpoint and
// is assigned a session identifier. The channel immediately advertises, via
// an `endpoint` event, the side-channel URL for injecting JSON-RPC messages,
// followed by a `connected` confirmation. Messages POSTed to that URL are
// acknowledged with 202 Accepted and answered asynchronously as `message`
// events on the channel. Periodic `ping` events keep intermediary proxies
// from reaping the idle connection.
//
// Session state lives in a process-local registry; there is no persistence
// across restarts and no multi-node affinity.
package streaminghttp
