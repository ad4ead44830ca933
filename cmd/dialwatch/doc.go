// Command dialwatch is the CLI for the dialwatch daemon. It talks to the
// daemon's local HTTP API to track campaigns, inspect merged snapshots, and
// stream live campaign events.
package main
