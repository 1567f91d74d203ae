// Package spa serves the client bundle: a matching static file when one
// exists, otherwise the entry document so client-side routes survive a
// full page load.
package spa
