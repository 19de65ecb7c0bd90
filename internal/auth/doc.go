// Package auth provides bearer authentication for glimpse-gateway.
//
// # Authentication Methods
//
// The package supports two credential types, both presented in a standard
// Authorization header:
//
//   - JWT Tokens: Signed with HS256 using the configured jwt_secret. The
//     "sub" claim identifies the caller. Mint tokens with the token
//     subcommand or via JWTVerifier.Generate.
//
//   - API Keys: Static keys configured as bcrypt hashes in the config file.
//     Keys are compared at request time; the matching entry's name becomes
//     the principal ID.
//
// # Principal System
//
// A successful authentication attaches a Principal to the request context:
//
//   - ID: subject claim for JWTs, entry name for API keys
//   - Method: "jwt", "api_key", or "anonymous"
//
// CredentialID derives a stable "method:id" string from the context, which
// the rate limiter uses as its per-credential identity. Requests that pass
// through with authentication disabled are "anonymous".
//
// # Middleware
//
// Middleware wires both credential types into a single http.Handler wrapper:
//
//	mw := auth.Middleware(verifier, keys, cfg.Auth.Enabled, logger)
//	mux.Handle("/api/v1/chat", mw(chatHandler))
//
// Rejected requests receive a 401 with the gateway's structured error
// envelope. Failures are logged with a reason attribute for operators.
package auth
