package model

// Job status filters accepted by QueryOpts.Status.
const (
	StatusAll        = ""
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// QueryOpts holds optional filters applied to job listings.
type QueryOpts struct {
	Status string // empty = all jobs
	User   string // empty = all users
	Limit  int    // <= 0 = DefaultJobLimit
}

// JobQuerier provides read-only queries on stored jobs.
type JobQuerier interface {
	TotalJobCount(opts QueryOpts) (int64, error)
	ListJobs(opts QueryOpts) ([]JobSummary, error)
	JobDetail(id string) (*JobDetail, error)
	JobExists(id string) (bool, error)
	SeriesKeys(id string) ([]SeriesKey, error)
	AggregateSeries(id, typeName, key string) ([]SeriesPoint, error)
	HostSeries(id, host, typeName, key string) ([]SeriesPoint, error)
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// JobWriter provides append-oriented write operations for assembled jobs.
type JobWriter interface {
	InsertJobBatch(results []*JobResult) error
}

// JobReader provides the unified read-side query contract.
type JobReader interface {
	JobQuerier
	SchemaQuerier
}

// ReadAPI is the unified read contract for read surfaces (HTTP and socket RPC).
type ReadAPI interface {
	JobReader
}
