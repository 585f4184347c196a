// Package memory provides in-process implementations of the service
// repositories. It backs the "memory" storage driver used for local runs and
// demos, and the service tests. Data does not survive a restart.
package memory
