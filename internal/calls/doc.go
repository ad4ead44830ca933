// Package calls is the typed client for the conversational-call vendor's
// batch status and conversation endpoints. It classifies transport failures
// but never decides retry policy; that belongs to the tracker.
package calls
