// Package httperr is the terminal stage of the request pipeline.
//
// Route handlers and middleware report failures by returning or forwarding
// an error instead of writing a response. [Handler.ServeError] turns that
// error into exactly one JSON response, or only logs it when the response
// has already started or the client has gone away.
package httperr
