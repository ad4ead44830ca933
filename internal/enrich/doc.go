// Package enrich caches post-call conversation artifacts keyed by
// conversation id, guaranteeing at most one concurrent vendor fetch per id
// and at most one successful fetch overall.
package enrich
