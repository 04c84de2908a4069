// Package services holds the error taxonomy and context annotation helpers
// shared by the stage clients, the orchestrator, and the API layer.
package services
