// Package cache provides a security-hardened in-memory cache for results of
// protected operations.
//
// Lookup keys are HMAC-derived so raw cache keys never index the store
// directly. Values are either stored with a SHA-256 content checksum or, when
// encryption is enabled, sealed with AES-GCM under a per-entry key derived
// from a versioned master secret and a per-entry random salt. Entries are
// partitioned, TTL-bounded, and evicted LRU-first under entry and memory
// budgets.
//
// Integrity failures on validated reads are treated as security violations:
// counted, logged, and converted to a cache miss with the entry evicted.
package cache
