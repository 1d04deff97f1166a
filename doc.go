// Package link implements the identity-linking core of a game community
// portal: it binds a chat-platform account (OAuth provider login) to a
// claimed game identity, grants a role through an external verification
// service, and keeps the authentication session consistent across the
// in-memory store, a durable mirror, and an HTTP cookie pair.
//
// The package is organized around five collaborators:
//
//   - SessionStore: in-memory source of truth for the current Session,
//     with synchronous change notification.
//   - Synchronizer: mirrors every session transition into a DurableStore
//     and a cookie pair, and rehydrates the store on startup.
//   - AdminResolver: derives the admin flag from the session identity and
//     a local override, computed fresh on every read.
//   - VerificationClient (verify package): stateless wrapper around the
//     external verify/grant-role/notify endpoints.
//   - LinkMachine: the finite state machine driving the user-visible
//     linking flow.
//
// Subpackages provide concrete infrastructure: store (bun/sqlite durable
// mirror), verify (HTTP verification client), provider/discord (OAuth
// provider and token validator).
package link
