// Package httputil provides HTTP utilities shared by the sign-on handlers.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, user)
//	httputil.WriteForbidden(w, "Local account creation is disabled")
//	httputil.WriteTooManyRequests(w, "Too many login attempts")
//
// # Request Metadata
//
// ClientIP and RequestHost honour the X-Forwarded-* headers set by the
// reverse proxy in front of the service.
//
//	host := httputil.RequestHost(r) // used to resolve the site
//	ip := httputil.ClientIP(r)      // used for login throttling
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestID,
//		httputil.RequestLogger(logger),
//		httputil.Recovery(logger),
//		httputil.MaxBytes(1<<20),
//	)(router)
//
// # Related Packages
//
//   - pkg/middleware: Tenant resolution, sessions and rate limiting
package httputil
