// Package snapshot defines the merged campaign view and the merger that
// combines vendor status lists with cached enrichment into monotonic,
// diff-able snapshots.
package snapshot
