// Package preview synthesizes short voice samples so a speaker can be heard
// before a long conversion is started. Only engines reachable as a network
// service (Edge, OpenAI) have synthesizers.
package preview
