// Package stdio exposes the gateway's tools over the MCP stdio transport for
// local single-client use. Wire framing and the protocol lifecycle are
// delegated to the official MCP Go SDK; tool semantics funnel into the same
// dispatcher the HTTP transports use, so all three transports answer
// identically.
package stdio
