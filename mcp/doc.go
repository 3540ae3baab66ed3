// Package mcp declares the Model Context Protocol wire types spoken by the
// gateway: the initialize handshake, tool descriptors and schemas, and the
// tool result envelope. The gateway advertises only the tools capability;
// prompts and resources are served as empty capability stubs.
package mcp
