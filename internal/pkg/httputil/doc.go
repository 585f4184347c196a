// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Every response carries a boolean "success" field next to its payload, so
// handlers build bodies with Body and write them through these helpers
// instead of raw http.ResponseWriter calls.
package httputil
