// Package stores holds the Redis persistence for suspended workflow records.
// Records use a compact versioned binary encoding; opaque client blobs and
// protocol lists are embedded as-is.
package stores
