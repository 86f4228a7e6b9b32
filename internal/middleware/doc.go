// Package middleware holds the HTTP middleware shared by every route:
// correlation ids, panic recovery and request deadlines.
package middleware
