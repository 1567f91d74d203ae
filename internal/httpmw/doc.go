// Package httpmw holds the middleware stages of the public server.
//
// httpserver.NewHandler composes them in a fixed order: response tracking,
// security headers, request id, client ip, panic recovery, tracing,
// metrics, request scoped logging, CORS, body parsing and the optional
// development request log. Stages that fail forward an error to the
// terminal error handler instead of writing a response themselves.
//
// Request bodies, query strings and user agents are never logged.
package httpmw
