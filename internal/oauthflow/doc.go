// Package oauthflow manages the init/callback lifecycle for connecting to
// external OAuth providers.
//
// A flow serves two purposes: logging a user into the application
// (app_auth), and linking an external provider as a data source
// (data_source). Both follow the same shape:
//
//  1. Init generates a single-use, time-bounded, cryptographically
//     unguessable state nonce, records it server-side, and builds the
//     provider's authorization URL embedding it.
//
//  2. Callback consumes the recorded nonce exactly once. A mismatched,
//     expired, or replayed state is rejected before the provider is ever
//     contacted, so forged callbacks cause no token-exchange side effects.
//     On success the authorization code is exchanged with the provider; for
//     app_auth a session token is additionally minted for the resolved
//     identity so the HTTP layer can set it as a cookie.
//
// Connectors encapsulate provider specifics. Two variants exist: an OIDC
// connector built from issuer discovery (verifies ID tokens for app_auth)
// and a static-endpoint connector for plain OAuth2 data sources.
package oauthflow
