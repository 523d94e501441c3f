// Package cache holds the two stores used by the front-end: an in-memory
// LRU for synthesized voice previews and a zstd-compressed disk archive for
// the logs of finished conversions.
package cache
