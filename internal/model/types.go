package model

import "time"

// HostListNone is the accounting placeholder for a job that never got nodes.
const HostListNone = "None assigned"

// AccountingRecord is the batch scheduler's view of one job. It is the
// canonical input to job assembly.
type AccountingRecord struct {
	ID        string   `json:"id" yaml:"id"`
	User      string   `json:"user,omitempty" yaml:"user,omitempty"`
	Account   string   `json:"account,omitempty" yaml:"account,omitempty"`
	Queue     string   `json:"queue,omitempty" yaml:"queue,omitempty"`
	Name      string   `json:"name,omitempty" yaml:"name,omitempty"`
	Status    string   `json:"status,omitempty" yaml:"status,omitempty"`
	StartTime int64    `json:"start_time" yaml:"start_time"`
	EndTime   int64    `json:"end_time" yaml:"end_time"`
	Nodes     int      `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Cores     int      `json:"cores,omitempty" yaml:"cores,omitempty"`
	HostList  []string `json:"host_list,omitempty" yaml:"host_list,omitempty"`
	// NodeList is a compressed scheduler node list such as "c401-[101-104]".
	// It is consulted when HostList is empty.
	NodeList string `json:"node_list,omitempty" yaml:"node_list,omitempty"`
}

// Walltime returns the job runtime in seconds.
func (a AccountingRecord) Walltime() int64 { return a.EndTime - a.StartTime }

// SchemaField describes one column of a counter type.
type SchemaField struct {
	Key     string `json:"key"`
	Event   bool   `json:"event,omitempty"`
	Control bool   `json:"control,omitempty"`
	Width   int    `json:"width,omitempty"`
	Mult    uint64 `json:"mult,omitempty"`
	Unit    string `json:"unit,omitempty"`
}

// SchemaInfo is a counter type declaration as used by a job.
type SchemaInfo struct {
	Type   string        `json:"type"`
	Desc   string        `json:"desc"`
	Fields []SchemaField `json:"fields"`
}

// DeviceSeries is the aligned, corrected matrix of one device: one row per
// job time point, one column per schema field.
type DeviceSeries struct {
	Type   string     `json:"type"`
	Device string     `json:"device"`
	Rows   [][]uint64 `json:"rows"`
}

// HostResult is everything a job kept from one host.
type HostResult struct {
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Marks    []string       `json:"marks,omitempty"`
	Complete bool           `json:"complete"`
	Series   []DeviceSeries `json:"series"`
}

// Overflow lists the hosts whose counter rolled over unexpectedly.
type Overflow struct {
	Type   string   `json:"type"`
	Device string   `json:"device"`
	Key    string   `json:"key"`
	Hosts  []string `json:"hosts"`
}

// JitterStat is the RMS distance between a host's chosen sample times and
// the job time base, for one device.
type JitterStat struct {
	Host   string  `json:"host"`
	Type   string  `json:"type"`
	Device string  `json:"device"`
	RMS    float64 `json:"rms"`
}

// JobResult is an assembled job, ready to be stored or exported.
type JobResult struct {
	ID          string           `json:"id"`
	Account     AccountingRecord `json:"account"`
	Failed      bool             `json:"failed"`
	Complete    bool             `json:"complete"`
	Times       []float64        `json:"times,omitempty"`
	Schemas     []SchemaInfo     `json:"schemas,omitempty"`
	Hosts       []HostResult     `json:"hosts,omitempty"`
	Overflows   []Overflow       `json:"overflows,omitempty"`
	Jitter      []JitterStat     `json:"jitter,omitempty"`
	Errors      []string         `json:"errors,omitempty"`
	Processes   []string         `json:"processes,omitempty"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// JobSummary is one row of the job listing.
type JobSummary struct {
	ID            string    `json:"id"`
	User          string    `json:"user"`
	Name          string    `json:"name"`
	StartTime     int64     `json:"start_time"`
	EndTime       int64     `json:"end_time"`
	Hosts         int       `json:"hosts"`
	Samples       int       `json:"samples"`
	Failed        bool      `json:"failed"`
	Complete      bool      `json:"complete"`
	ErrorCount    int64     `json:"error_count"`
	OverflowCount int64     `json:"overflow_count"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// JobDetail is the stored metadata of one job, without the series values.
type JobDetail struct {
	JobSummary
	Times     []float64    `json:"times"`
	Schemas   []SchemaInfo `json:"schemas"`
	HostNames []string     `json:"host_names"`
	Errors    []string     `json:"errors"`
	Overflows []Overflow   `json:"overflows"`
	Jitter    []JitterStat `json:"jitter"`
	Processes []string     `json:"processes"`
}

// SeriesKey names one stored metric column of a job.
type SeriesKey struct {
	Type    string `json:"type"`
	Key     string `json:"key"`
	Devices int    `json:"devices"`
}

// SeriesPoint is one value of a metric at a job time point.
type SeriesPoint struct {
	Index int     `json:"index"`
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}
