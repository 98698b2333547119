// Package tf tracks coordinate transforms between named frames over time.
//
// Responsibilities: rigid transform math (rotation as a unit quaternion,
// translation as a 3-vector), the Provider contract used by the scan
// conversion core, and Buffer, an in-memory transform history that
// resolves chains of parent/child links at an arbitrary instant.
//
// Lookups distinguish two failure modes. ErrNotAvailable means the data
// for the requested instant has not arrived yet and the caller may wait.
// Errors wrapping ErrLookup (unknown frame, disconnected trees, instants
// older than the retained history) will not resolve by waiting.
package tf
