// Package tracker runs the per-campaign poll loop that turns vendor status
// responses into published snapshot diffs and a single terminal event.
package tracker
