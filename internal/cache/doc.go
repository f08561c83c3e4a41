// Package cache is the read-through cache and invalidation layer in front of
// the catalog read paths.
//
// # Keys and tags
//
// Entry keys are structured as cache:<kind>:<parts...> (see [Key]); the kind
// segment lets the [Analyzer] and [Maintenance] select entries by exact match.
// A tag is a named set stored at tag:<name> whose members are entry keys.
// [GetOrCompute] registers a key in all of its tags in the same transaction
// that stores the value.
//
// # Failure policy
//
// The cache fails open. If the key/value store is unreachable, lookups count
// as a miss plus an error, compute runs directly and the result is returned
// uncached. Nothing here is fatal to a request.
//
// # Background work
//
// [Warmer] refreshes hot entries on fixed intervals with bounded
// concurrency. [Maintenance] trims stale search entries, old stats snapshots
// and orphaned tag sets. [Monitor] classifies health from the shared
// [Stats] counters.
package cache
