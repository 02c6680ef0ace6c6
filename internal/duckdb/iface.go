package duckdb

import "github.com/tinytelemetry/hpcjob/internal/model"

// Type aliases re-export model interfaces and types used in Store method
// signatures.
type (
	QueryOpts     = model.QueryOpts
	JobQuerier    = model.JobQuerier
	SchemaQuerier = model.SchemaQuerier
	JobWriter     = model.JobWriter
	JobReader     = model.JobReader
	ReadAPI       = model.ReadAPI

	JobResult   = model.JobResult
	JobSummary  = model.JobSummary
	JobDetail   = model.JobDetail
	SeriesKey   = model.SeriesKey
	SeriesPoint = model.SeriesPoint
)

var (
	_ model.ReadAPI   = (*Store)(nil)
	_ model.JobWriter = (*Store)(nil)
)
