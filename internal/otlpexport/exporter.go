// Package otlpexport ships assembled jobs to an OpenTelemetry collector as
// OTLP metrics over gRPC.
package otlpexport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

const (
	// DefaultTimeout bounds one Export RPC.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxRequestBytes stays under the 4 MiB default gRPC receive limit.
	DefaultMaxRequestBytes = 3 << 20
)

// Config configures an Exporter.
type Config struct {
	Endpoint        string
	Timeout         time.Duration
	MaxRequestBytes int
	Headers         map[string]string
	Logger          logrus.FieldLogger
	// DialOptions replace the default insecure transport credentials.
	DialOptions []grpc.DialOption
}

// Exporter sends job results to an OTLP metrics endpoint.
type Exporter struct {
	conn     *grpc.ClientConn
	client   collectormetrics.MetricsServiceClient
	timeout  time.Duration
	maxBytes int
	md       metadata.MD
	log      logrus.FieldLogger
}

// New connects lazily to cfg.Endpoint.
func New(cfg Config) (*Exporter, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("otlpexport: endpoint is empty")
	}
	opts := cfg.DialOptions
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlpexport: dial %s: %w", endpoint, err)
	}

	e := &Exporter{
		conn:     conn,
		client:   collectormetrics.NewMetricsServiceClient(conn),
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxRequestBytes,
		log:      cfg.Logger,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.maxBytes <= 0 {
		e.maxBytes = DefaultMaxRequestBytes
	}
	if len(cfg.Headers) > 0 {
		e.md = metadata.New(cfg.Headers)
	}
	if e.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		e.log = l
	}
	return e, nil
}

// Export sends r. Oversized jobs are split into one request per host.
func (e *Exporter) Export(ctx context.Context, r *model.JobResult) error {
	rms := ResourceMetrics(r)
	if len(rms) == 0 {
		return nil
	}
	for _, req := range split(rms, e.maxBytes) {
		if err := e.send(ctx, req); err != nil {
			return fmt.Errorf("otlpexport: job %s: %w", r.ID, err)
		}
	}
	return nil
}

func (e *Exporter) send(ctx context.Context, req *collectormetrics.ExportMetricsServiceRequest) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if e.md != nil {
		ctx = metadata.NewOutgoingContext(ctx, e.md)
	}

	resp, err := e.client.Export(ctx, req)
	if err != nil {
		return err
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedDataPoints() > 0 {
		e.log.Warnf("otlpexport: collector rejected %d data points: %s",
			ps.GetRejectedDataPoints(), ps.GetErrorMessage())
	}
	return nil
}

// split packs hosts into requests no larger than maxBytes. A single host
// above the limit is still sent alone.
func split(rms []*metricspb.ResourceMetrics, maxBytes int) []*collectormetrics.ExportMetricsServiceRequest {
	whole := &collectormetrics.ExportMetricsServiceRequest{ResourceMetrics: rms}
	if proto.Size(whole) <= maxBytes {
		return []*collectormetrics.ExportMetricsServiceRequest{whole}
	}

	var out []*collectormetrics.ExportMetricsServiceRequest
	cur := &collectormetrics.ExportMetricsServiceRequest{}
	size := 0
	for _, rm := range rms {
		// Each ResourceMetrics costs its own size plus tag and length prefix.
		n := proto.Size(rm) + 8
		if len(cur.ResourceMetrics) > 0 && size+n > maxBytes {
			out = append(out, cur)
			cur = &collectormetrics.ExportMetricsServiceRequest{}
			size = 0
		}
		cur.ResourceMetrics = append(cur.ResourceMetrics, rm)
		size += n
	}
	if len(cur.ResourceMetrics) > 0 {
		out = append(out, cur)
	}
	return out
}

// Close tears down the gRPC connection.
func (e *Exporter) Close() error {
	return e.conn.Close()
}
