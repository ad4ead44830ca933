// Package logging configures the process-wide slog logger and provides
// attribute helpers plus the standardized field keys shared by components.
package logging
