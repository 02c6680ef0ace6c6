package httpserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/hpcjob/internal/model"
)

// maxListLimit caps the limit query parameter of job listings.
const maxListLimit = 10000

// Options configures optional parts of the server.
type Options struct {
	// Gatherer backs GET /metrics. The route is omitted when nil.
	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger
}

// Server provides an HTTP API over stored job results.
type Server struct {
	addr      string
	store     model.ReadAPI
	gatherer  prometheus.Gatherer
	log       logrus.FieldLogger
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store model.ReadAPI, opts ...Options) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		store:     store,
		gatherer:  o.Gatherer,
		log:       o.Logger,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/jobs", s.handleJobs)
	r.GET("/api/jobs/:id", s.handleJob)
	r.GET("/api/jobs/:id/series", s.handleSeries)
	r.GET("/api/schema", s.handleSchema)
	r.POST("/api/query", s.handleQuery)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("httpserver: serve: %v", err)
		}
	}()
	s.log.Infof("httpserver: listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
			"took":   time.Since(start),
		}).Debug("httpserver: request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	jobCount, err := s.store.TotalJobCount(model.QueryOpts{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).String(),
		"job_count": jobCount,
	})
}

func (s *Server) handleJobs(c *gin.Context) {
	opts := model.QueryOpts{
		Status: c.Query("status"),
		User:   c.Query("user"),
	}
	switch opts.Status {
	case model.StatusAll, model.StatusComplete, model.StatusIncomplete, model.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", opts.Status)})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxListLimit)})
			return
		}
		opts.Limit = n
	}

	jobs, err := s.store.ListJobs(opts)
	if err != nil {
		s.log.Warnf("httpserver: list jobs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	total, err := s.store.TotalJobCount(opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count jobs"})
		return
	}
	if jobs == nil {
		jobs = []model.JobSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": total})
}

func (s *Server) handleJob(c *gin.Context) {
	d, err := s.store.JobDetail(c.Param("id"))
	if err != nil {
		s.log.Warnf("httpserver: job detail %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job"})
		return
	}
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, d)
}

// handleSeries returns one aggregated or per-host series. Without type and
// key it lists the job's series keys.
func (s *Server) handleSeries(c *gin.Context) {
	id := c.Param("id")
	ok, err := s.store.JobExists(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	typeName, key, host := c.Query("type"), c.Query("key"), c.Query("host")
	if typeName == "" && key == "" {
		keys, err := s.store.SeriesKeys(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list series"})
			return
		}
		if keys == nil {
			keys = []model.SeriesKey{}
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys})
		return
	}
	if typeName == "" || key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type and key are both required"})
		return
	}

	var points []model.SeriesPoint
	if host != "" {
		points, err = s.store.HostSeries(id, host, typeName, key)
	} else {
		points, err = s.store.AggregateSeries(id, typeName, key)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read series"})
		return
	}
	if points == nil {
		points = []model.SeriesPoint{}
	}
	c.JSON(http.StatusOK, gin.H{
		"type":   typeName,
		"key":    key,
		"host":   host,
		"points": points,
	})
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.store.GetSchemaDescription()

	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	columns := []string{}
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
		sort.Strings(columns)
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}
