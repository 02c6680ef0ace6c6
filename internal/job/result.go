package job

import (
	"time"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

// Result snapshots the job for storage and export.
func (j *Job) Result() *model.JobResult {
	res := &model.JobResult{
		ID:          j.ID,
		Account:     j.Acct,
		Failed:      j.failed,
		Errors:      j.Errors(),
		Processes:   j.Processes(),
		ProcessedAt: time.Now().UTC(),
	}
	if j.failed || !j.processed {
		res.Failed = true
		return res
	}

	res.Complete = j.Complete()
	res.Times = append([]float64(nil), j.times...)
	res.Overflows = j.overflows.List()
	res.Jitter = append([]model.JitterStat(nil), j.jitter...)

	for _, typeName := range j.reg.Types() {
		s, _ := j.reg.Get(typeName)
		info := model.SchemaInfo{Type: typeName, Desc: s.Desc()}
		for _, f := range s.Fields() {
			info.Fields = append(info.Fields, model.SchemaField{
				Key:     f.Key,
				Event:   f.Event,
				Control: f.Control,
				Width:   f.Width,
				Mult:    f.Mult,
				Unit:    f.Unit,
			})
		}
		res.Schemas = append(res.Schemas, info)
	}

	for _, h := range j.hosts {
		hr := model.HostResult{
			Name:     h.name,
			Version:  h.parser.Version(),
			Marks:    h.parser.Marks(),
			Complete: h.complete,
		}
		for _, typeName := range sortedKeys(h.stats) {
			devs := h.stats[typeName]
			for _, dev := range sortedKeys(devs) {
				hr.Series = append(hr.Series, model.DeviceSeries{
					Type:   typeName,
					Device: dev,
					Rows:   devs[dev].Rows2D(),
				})
			}
		}
		res.Hosts = append(res.Hosts, hr)
	}
	return res
}
