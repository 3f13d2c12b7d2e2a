// Package handlers contains HTTP middleware and health checks shared by
// the API server.
//
// Health checks are registered by name and run in parallel. Critical checks
// decide liveness, optional ones only readiness:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddOptionalCheck("roster", handlers.NewRosterLoadedCheck(rosters))
//
// Roster import is restricted to trusted services that present a key whose
// bcrypt hash is configured:
//
//	keys, _ := handlers.ParseServiceKeys(cfg.Auth.ServiceKeyHashes)
//	auth := handlers.NewAPIKeyAuth(cfg.Auth.ServiceKeyHeader, keys)
package handlers
