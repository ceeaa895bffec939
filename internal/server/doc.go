// Package server runs the development server for a resolved
// model.ServeConfiguration: static output under a base URL, an optional
// reverse proxy, and a separate live-reload endpoint that tells connected
// browsers to refresh when the output changes.
package server
