// Package http exposes the session subsystem to the web surface over a local
// JSON API.
//
// Routes:
//
//	POST /api/auth/signin     {email, password} -> session view
//	GET  /api/auth/session    session view
//	POST /api/auth/refresh    forced refresh -> session view
//	POST /api/auth/switch     {role} -> role selection
//	GET  /api/route/decide    ?path=... -> navigation decision
//	POST /api/auth/logout     server sign-out plus local wipe
//	GET  /health              component checks
//	GET  /metrics             Prometheus exposition
//
// A successful logout answers 200 with the X-Auth-Logout: true header and
// no-cache headers. A sign-out rejected by the identity provider answers 400;
// any other failure answers 500. Local state is wiped in every case.
//
// Repeated failed sign-ins for one email answer 429 with Retry-After until
// the window passes.
//
// Middleware order (outermost first): metrics, request id, origin check.
package http
