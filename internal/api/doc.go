// Package api defines wire-format types, converters, and the job service
// backing the HTTP API. It translates internal pipeline models into
// transport-friendly DTOs so handlers never couple to internal types.
//
// DTOs use snake_case JSON tags. Internal enums (pipeline.Status,
// pipeline.StageName) are exposed as lowercase strings and timestamps use
// RFC3339 with milliseconds.
package api
