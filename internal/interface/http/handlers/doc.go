// Package handlers holds the health checker and the middleware of the
// HTTP transport.
//
// Checks are named, run concurrently with a per-check timeout, and marked
// critical when a failure must take the instance out of rotation:
//
//	health := handlers.NewHealth("v1.0.0")
//	health.AddCheck("database", true, handlers.PingCheck(store))
//	health.AddCheck("redis", false, handlers.PingCheck(cache))
//
// The Redis cache and lock degrade to in-process behaviour, so the redis
// check only affects /health, never /ready.
//
// Middleware compose with Chain, outermost first. Constructors that are
// switched off by configuration return nil, which Chain skips:
//
//	h := handlers.Chain(mux,
//	    handlers.RequestID(log),
//	    handlers.AccessLog(),
//	    handlers.RateLimit(handlers.NewLimiter(cfg.RateLimit, time.Minute), reject),
//	    handlers.Deadline(cfg.RequestDeadline),
//	)
package handlers
