// Package server is the web front-end: an HTML form plus a JSON API for
// listing engines, validating options, submitting conversions and following
// their progress over server-sent events.
package server
