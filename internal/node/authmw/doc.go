// Package authmw provides bearer-token authentication for a mesh node at
// two points.
//
// New is HTTP middleware for internal/restapi: it validates the
// Authorization: Bearer <token> header against a shared HS256 secret and
// rejects the request with 401 before it reaches any /dapi route.
//
// Middleware is a meshnode.HandlerFunc installed in the node's Dispatcher:
// it rejects a request whose context carries no validated Claims. New
// places those Claims for REST requests; a link Session places them via
// SetClaims for requests from a peer it authenticated.
//
// Neither carries any notion of roles or per-device permission — only
// "authenticated or not".
package authmw
