// Package mcp implements the Model Context Protocol server for external tool access.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This package
// provides an MCP-compatible HTTP server that exposes the gateway's vision tools
// to external AI clients (like Claude Desktop, other LLMs, or custom applications).
//
// # Protocol
//
// The server implements the MCP Streamable HTTP transport: JSON-RPC 2.0 over a
// single POST endpoint, with sessions tracked via the Mcp-Session-Id header.
//
//   - POST /mcp - initialize, tools/list, tools/call, notifications
//   - DELETE /mcp - terminate a session
//
// Server-initiated SSE streams (GET) are not supported; tool results are
// returned inline.
//
// # Authentication
//
// The gateway's own auth middleware wraps this server, so requests arriving
// here already carry a verified principal. Sessions are additionally bound to
// the bearer credential that created them, so only the creator can terminate
// a session.
//
// # Tools
//
// Two tools are exposed:
//
//   - describe_image: describe a base64-encoded image with a vision provider,
//     optionally continuing an existing conversation
//   - list_models: list the models and providers the gateway routes to
//
// Clients call tools/call to execute a tool:
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "describe_image",
//	    "arguments": {"provider": "openai", "image_base64": "..."}
//	  },
//	  "id": 2
//	}
//
// Classified gateway faults (unsupported provider, rate limit, upstream
// failure) come back as isError tool results the agent can read and act on;
// transport failures become JSON-RPC errors.
//
// # Usage
//
// Create the server and mount it behind the gateway's middleware:
//
//	server, err := mcp.NewServer(mcp.Config{
//	    Describe:   gw.mcpDescribe,
//	    ListModels: gw.mcpListModels,
//	    Logger:     logger,
//	})
//	mux.Handle("/mcp", authMiddleware(server))
//
// # Integration with Claude Desktop
//
// Add to Claude Desktop's MCP configuration:
//
//	{
//	  "mcpServers": {
//	    "glimpse": {
//	      "url": "http://localhost:8080/mcp",
//	      "authorization": "Bearer <api key>"
//	    }
//	  }
//	}
package mcp
