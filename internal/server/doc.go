// Package server exposes the TokenReview webhook over HTTP with gin.
//
// # Routes
//
//	GET  /         liveness text
//	POST /token    TokenReview in, 200 allow or 401 deny out
//	GET  /healthz  liveness probe
//	GET  /readyz   readiness probe
//
// Every failure on /token, including unreadable bodies and panics, is
// answered with the deny envelope. No internal error text is written to
// the response.
package server
