// Package restapi is the optional HTTP adapter: it translates REST
// requests into node-engine verbs and is not part of the core. A single
// route pattern, GET/PUT/POST /dapi/{id}/{ident}, covers every verb the
// Dispatcher understands except SUBSCRIBE, which has no route.
//
// Routing:
//
//	GET  /dapi/{id}/{ident}  -> GET, or DESCRIBE when ident is ".schema" or ".config"
//	PUT  /dapi/{id}/{ident}  -> SET, or CONFIG when ident is ".config"
//	POST /dapi/{id}/{ident}  -> INVOKE, or PUT/NOTIFY when ident is "metrics"/"events"
//
// Thread Safety: Server is safe for concurrent use from multiple goroutines;
// it holds no mutable state beyond its dependencies.
package restapi
