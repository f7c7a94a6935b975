// Package api defines the request and response shapes exchanged over the
// HTTP surface. Handlers live in api/handlers; this package stays free of
// transport concerns so clients can reuse the types.
package api
