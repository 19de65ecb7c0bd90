// Package gateway assembles the glimpse-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the glimpse-gateway
// server. It owns every major component: the vision provider factory, the
// speech synthesizer, the conversation store, the audio manager, both rate
// limiters, the usage ledger, the MCP server, and the HTTP server that
// fronts them all.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    cfg           *config.Config
//	    providers     *vfactory.Factory
//	    synthesizer   *speech.Synthesizer
//	    conversations conversation.Store
//	    audio         *audio.Manager
//	    usage         store.Store
//	    orchestrator  *Orchestrator
//	    addrLimiter   *ratelimit.Limiter
//	    credLimiter   *ratelimit.Limiter
//	    mcpServer     *mcp.Server
//	    httpServer    *http.Server
//	    // ... and more
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/v1/chat - Describe an image (buffered JSON or SSE streaming)
//   - GET /api/v1/models - List the model catalog across providers
//   - POST /api/v1/test-connection - Probe a vendor without a chat round trip
//   - GET /api/v1/limits - Report the caller's remaining rate-limit quota
//   - GET /api/v1/usage - Read the usage ledger
//   - GET /audio/{name} - Serve stored synthesis output until it expires
//   - POST /mcp - MCP Streamable HTTP endpoint
//   - GET /healthz - Liveness check
//   - GET /readyz - Readiness check
//
// # SSE Streaming
//
// With "stream": true the chat response arrives as Server-Sent Events:
//
//	event: delta
//	data: {"text": "A red bicycle "}
//
//	event: delta
//	data: {"text": "leaning on a wall."}
//
//	event: done
//	data: {"conversation_id": "...", "audio_url": null, "latency_ms": 840}
//
// Failures before the first fragment are ordinary HTTP errors; failures
// after it surface as a terminal "error" event on the open stream.
//
// # Request Pipeline
//
// Every request flows through the middleware chain in events.go
// (request-correlation ID, panic recovery, CORS), then auth, then both
// rate limiters, then the orchestrator:
//
//	decode image -> resolve conversation -> call vision provider
//	    -> append turns -> synthesize speech -> record usage
//
// Rejections map to the fault taxonomy; every error response is a JSON
// envelope carrying kind, message, suggestion, and the request id.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//	gw.Shutdown(shutdownCtx)
//
// # Key Files
//
//   - gateway.go: Gateway struct, wiring, Run/Shutdown, tsnet listeners
//   - orchestrator.go: the describe-image state machine
//   - api.go: HTTP handlers and SSE streaming
//   - image.go: inbound image validation
//   - events.go: middleware stack and structured events
package gateway
