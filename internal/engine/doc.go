// Package engine is the facade over campaign tracking: it owns the poll
// sessions, the shared enrichment cache, and the stream hub, and exposes the
// track, untrack, subscribe, snapshot, and refresh operations the daemon's API
// surfaces.
package engine
