package otlpexport

import (
	"math"
	"strings"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

const (
	scopeName   = "github.com/tinytelemetry/hpcjob"
	serviceName = "hpcjob"
	metricRoot  = "hpcjob"
)

// Resource and point attribute keys.
const (
	AttrServiceName      = "service.name"
	AttrHostName         = "host.name"
	AttrJobID            = "hpc.job.id"
	AttrJobUser          = "hpc.job.user"
	AttrJobQueue         = "hpc.job.queue"
	AttrCollectorVersion = "hpc.collector.version"
	AttrDevice           = "device"
)

// MetricName returns the exported name of one schema field.
func MetricName(typeName, key string) string {
	return metricRoot + "." + typeName + "." + key
}

// BuildRequest converts an assembled job into one export request holding a
// ResourceMetrics per host. Failed jobs and jobs without a time base yield
// nil.
func BuildRequest(r *model.JobResult) *collectormetrics.ExportMetricsServiceRequest {
	rms := ResourceMetrics(r)
	if len(rms) == 0 {
		return nil
	}
	return &collectormetrics.ExportMetricsServiceRequest{ResourceMetrics: rms}
}

// ResourceMetrics converts each host of r into its own ResourceMetrics.
func ResourceMetrics(r *model.JobResult) []*metricspb.ResourceMetrics {
	if r == nil || r.Failed || len(r.Times) == 0 {
		return nil
	}

	schemas := make(map[string]model.SchemaInfo, len(r.Schemas))
	for _, s := range r.Schemas {
		schemas[s.Type] = s
	}
	times := make([]uint64, len(r.Times))
	for i, t := range r.Times {
		times[i] = unixNano(t)
	}

	out := make([]*metricspb.ResourceMetrics, 0, len(r.Hosts))
	for _, h := range r.Hosts {
		metrics := hostMetrics(h, schemas, times)
		if len(metrics) == 0 {
			continue
		}
		out = append(out, &metricspb.ResourceMetrics{
			Resource: &resourcepb.Resource{Attributes: resourceAttrs(r, h)},
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Scope:   &commonpb.InstrumentationScope{Name: scopeName},
				Metrics: metrics,
			}},
		})
	}
	return out
}

func resourceAttrs(r *model.JobResult, h model.HostResult) []*commonpb.KeyValue {
	attrs := []*commonpb.KeyValue{
		stringAttr(AttrServiceName, serviceName),
		stringAttr(AttrHostName, h.Name),
		stringAttr(AttrJobID, r.ID),
	}
	if u := strings.TrimSpace(r.Account.User); u != "" {
		attrs = append(attrs, stringAttr(AttrJobUser, u))
	}
	if q := strings.TrimSpace(r.Account.Queue); q != "" {
		attrs = append(attrs, stringAttr(AttrJobQueue, q))
	}
	if h.Version != "" {
		attrs = append(attrs, stringAttr(AttrCollectorVersion, h.Version))
	}
	return attrs
}

// hostMetrics emits one metric per (type, field) present on the host, with a
// data point for every device at every job time. Control fields are skipped.
func hostMetrics(h model.HostResult, schemas map[string]model.SchemaInfo, times []uint64) []*metricspb.Metric {
	byType := make(map[string][]model.DeviceSeries)
	var order []string
	for _, ds := range h.Series {
		if _, ok := byType[ds.Type]; !ok {
			order = append(order, ds.Type)
		}
		byType[ds.Type] = append(byType[ds.Type], ds)
	}

	var out []*metricspb.Metric
	for _, typeName := range order {
		s, ok := schemas[typeName]
		if !ok {
			continue
		}
		for col, f := range s.Fields {
			if f.Control {
				continue
			}
			var points []*metricspb.NumberDataPoint
			for _, ds := range byType[typeName] {
				dev := []*commonpb.KeyValue{stringAttr(AttrDevice, ds.Device)}
				for i, row := range ds.Rows {
					if i >= len(times) || col >= len(row) {
						break
					}
					p := &metricspb.NumberDataPoint{
						Attributes:   dev,
						TimeUnixNano: times[i],
					}
					setValue(p, row[col])
					if f.Event {
						p.StartTimeUnixNano = times[0]
					}
					points = append(points, p)
				}
			}
			if len(points) == 0 {
				continue
			}
			out = append(out, newMetric(MetricName(typeName, f.Key), s.Desc, f, points))
		}
	}
	return out
}

func newMetric(name, desc string, f model.SchemaField, points []*metricspb.NumberDataPoint) *metricspb.Metric {
	m := &metricspb.Metric{Name: name, Description: desc, Unit: f.Unit}
	if f.Event {
		m.Data = &metricspb.Metric_Sum{Sum: &metricspb.Sum{
			DataPoints:             points,
			AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
			IsMonotonic:            true,
		}}
		return m
	}
	m.Data = &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{DataPoints: points}}
	return m
}

// setValue stores v as an int when it fits, as a double otherwise.
func setValue(p *metricspb.NumberDataPoint, v uint64) {
	if v > math.MaxInt64 {
		p.Value = &metricspb.NumberDataPoint_AsDouble{AsDouble: float64(v)}
		return
	}
	p.Value = &metricspb.NumberDataPoint_AsInt{AsInt: int64(v)}
}

func stringAttr(k, v string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   k,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}},
	}
}

func unixNano(sec float64) uint64 {
	if sec <= 0 {
		return 0
	}
	return uint64(math.Round(sec * 1e9))
}
