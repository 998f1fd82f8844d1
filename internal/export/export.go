// Package export writes impact reports to object storage.
//
// A report is the JSON snapshot of one reachability answer: which targets a
// source reaches (or is reached by) under a concrete trigger environment, at
// a concrete cache version. Reports are immutable once written; a new answer
// gets a new key.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flexinfer/flowreach/internal/metrics"
	"github.com/flexinfer/flowreach/pkg/types"
)

// ErrNoReports is returned when a listing has no reports to offer.
var ErrNoReports = errors.New("no reports found")

// Report is the exported document.
type Report struct {
	GraphID     string            `json:"graph_id"`
	Environment types.Environment `json:"environment"`
	Source      string            `json:"source"`
	MaxSteps    int               `json:"max_steps"`
	Inverted    bool              `json:"inverted"`
	Version     int64             `json:"version"`
	Targets     []string          `json:"targets"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// ReportRef points at a stored report.
type ReportRef struct {
	// URI is the full object path (e.g. "s3://bucket/reports/main/home/...").
	URI string `json:"uri"`

	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Backend is the storage interface reports are written through.
type Backend interface {
	// Put stores data and returns a reference to it.
	Put(ctx context.Context, path string, data io.Reader, contentType string) (*ReportRef, error)

	// Get retrieves the stored bytes for a reference.
	Get(ctx context.Context, ref *ReportRef) (io.ReadCloser, error)

	// List returns references under a path prefix.
	List(ctx context.Context, prefix string) ([]*ReportRef, error)

	// PresignGet generates a time-limited download URL.
	PresignGet(ctx context.Context, ref *ReportRef, expiry time.Duration) (string, error)
}

// Config holds export storage configuration.
type Config struct {
	// Backend type: "memory", "s3", "minio"
	Type string

	// S3/MinIO configuration. Endpoint is only set for MinIO.
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool

	// PathPrefix is prepended to all report keys.
	PathPrefix string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Type: "memory"}
}

// Service writes and lists reports on a Backend.
type Service struct {
	backend Backend
}

// New creates an export service for the configured backend.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var backend Backend
	switch cfg.Type {
	case "memory", "":
		backend = NewMemoryBackend()
	case "s3", "minio":
		s3Cfg := &S3Config{
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			PathPrefix:      cfg.PathPrefix,
		}
		s3Backend, err := NewS3Backend(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create s3 backend: %w", err)
		}
		backend = s3Backend
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}

	return &Service{backend: backend}, nil
}

// ReportPath returns the object key for a report. Timestamps sort
// lexicographically, so keys under one source are chronological.
func (s *Service) ReportPath(graphID, source string, generatedAt time.Time) string {
	ts := generatedAt.UTC().Format("20060102T150405.000")
	return fmt.Sprintf("reports/%s/%s/%s.json", graphID, source, ts)
}

// ExportReport marshals the report and writes it under its key.
func (s *Service) ExportReport(ctx context.Context, rep *Report) (*ReportRef, error) {
	if rep.GeneratedAt.IsZero() {
		rep.GeneratedAt = time.Now().UTC()
	}
	if rep.Targets == nil {
		rep.Targets = []string{}
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		metrics.ReportsExportedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	path := s.ReportPath(rep.GraphID, rep.Source, rep.GeneratedAt)
	ref, err := s.backend.Put(ctx, path, bytes.NewReader(data), "application/json")
	if err != nil {
		metrics.ReportsExportedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store report: %w", err)
	}

	metrics.ReportsExportedTotal.WithLabelValues("success").Inc()
	return ref, nil
}

// GetReport reads a stored report back.
func (s *Service) GetReport(ctx context.Context, ref *ReportRef) (*Report, error) {
	rc, err := s.backend.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var rep Report
	if err := json.NewDecoder(rc).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", ref.URI, err)
	}
	return &rep, nil
}

// ListReports returns references for a graph, oldest first. A non-empty
// source narrows the listing to one source node.
func (s *Service) ListReports(ctx context.Context, graphID, source string) ([]*ReportRef, error) {
	prefix := fmt.Sprintf("reports/%s/", graphID)
	if source != "" {
		prefix += source + "/"
	}

	refs, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].URI < refs[j].URI })
	return refs, nil
}

// LatestReport returns the most recently written report for a source.
func (s *Service) LatestReport(ctx context.Context, graphID, source string) (*Report, *ReportRef, error) {
	refs, err := s.ListReports(ctx, graphID, source)
	if err != nil {
		return nil, nil, err
	}
	if len(refs) == 0 {
		return nil, nil, fmt.Errorf("graph %q source %q: %w", graphID, source, ErrNoReports)
	}

	ref := refs[len(refs)-1]
	rep, err := s.GetReport(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	return rep, ref, nil
}

// DownloadURL generates a presigned download URL for a report.
func (s *Service) DownloadURL(ctx context.Context, ref *ReportRef, expiry time.Duration) (string, error) {
	return s.backend.PresignGet(ctx, ref, expiry)
}

// MemoryBackend stores reports in process memory, for tests and for
// running without object storage.
type MemoryBackend struct {
	mu      sync.Mutex
	objects map[string]*memoryObject
}

type memoryObject struct {
	ref  *ReportRef
	data []byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string]*memoryObject)}
}

var _ Backend = (*MemoryBackend)(nil)

func (m *MemoryBackend) Put(ctx context.Context, path string, data io.Reader, contentType string) (*ReportRef, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	ref := &ReportRef{
		URI:         fmt.Sprintf("memory://%s", path),
		ContentType: contentType,
		Size:        int64(len(content)),
		CreatedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	m.objects[path] = &memoryObject{ref: ref, data: content}
	m.mu.Unlock()
	return ref, nil
}

func (m *MemoryBackend) Get(ctx context.Context, ref *ReportRef) (io.ReadCloser, error) {
	path := strings.TrimPrefix(ref.URI, "memory://")

	m.mu.Lock()
	obj, ok := m.objects[path]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("report not found: %s", ref.URI)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]*ReportRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var refs []*ReportRef
	for path, obj := range m.objects {
		if strings.HasPrefix(path, prefix) {
			refs = append(refs, obj.ref)
		}
	}
	return refs, nil
}

func (m *MemoryBackend) PresignGet(ctx context.Context, ref *ReportRef, expiry time.Duration) (string, error) {
	return "", fmt.Errorf("presigned URLs not supported for memory backend")
}
