package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/grantkeeper/grantkeeper/internal/jobs"
	"github.com/grantkeeper/grantkeeper/internal/rbac"
	"github.com/grantkeeper/grantkeeper/report"
)

// GrantResolver loads resolved permissions for a visibility scope.
type GrantResolver interface {
	ResolveScope(ctx context.Context, scope rbac.Scope) ([]rbac.SubjectPermissions, error)
}

// ReportRenderer turns a grant report into PDF bytes.
type ReportRenderer interface {
	Render(ctx context.Context, data report.GrantReport) (report.Result, error)
}

// GrantReportConfig wires dependencies for the grant report job.
type GrantReportConfig struct {
	Resolver   GrantResolver
	Renderer   ReportRenderer
	StorageDir string
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	Now        func() time.Time
}

// GrantReportJob renders every subject's grants into a PDF on disk.
type GrantReportJob struct {
	resolver   GrantResolver
	renderer   ReportRenderer
	storageDir string
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
	now        func() time.Time
}

// NewGrantReportJob constructs the job handler.
func NewGrantReportJob(cfg GrantReportConfig) *GrantReportJob {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &GrantReportJob{
		resolver:   cfg.Resolver,
		renderer:   cfg.Renderer,
		storageDir: cfg.StorageDir,
		logger:     logger,
		metrics:    cfg.Metrics,
		now:        now,
	}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *GrantReportJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload GrantReportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		j.logger.Warn("grant report payload", slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run produces one report and returns the written file path.
func (j *GrantReportJob) Run(ctx context.Context, payload GrantReportPayload) (string, error) {
	tracker := j.metrics.Track("grant_report")
	path, err := j.run(ctx, payload)
	return path, tracker.End(err)
}

func (j *GrantReportJob) run(ctx context.Context, payload GrantReportPayload) (string, error) {
	if j.resolver == nil || j.renderer == nil {
		return "", fmt.Errorf("grant report job not configured: %w", asynq.SkipRetry)
	}
	subjects, err := j.resolver.ResolveScope(ctx, rbac.Scope{All: true})
	if err != nil {
		return "", fmt.Errorf("resolve grants: %w", err)
	}
	generated := j.now().UTC()
	rendered, err := j.renderer.Render(ctx, report.GrantReport{
		Title:       "Grant report",
		GeneratedAt: generated,
		Subjects:    subjects,
	})
	if err != nil {
		return "", fmt.Errorf("render grant report: %w", err)
	}
	path, err := j.save(generated, rendered.PDF)
	if err != nil {
		return "", err
	}
	j.logger.Info("grant report ready",
		slog.String("file", path),
		slog.Int("subjects", len(subjects)),
		slog.Int64("requested_by", payload.RequestedBy),
		slog.String("reason", payload.Reason),
	)
	return path, nil
}

func (j *GrantReportJob) save(at time.Time, pdf []byte) (string, error) {
	dir := j.storageDir
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "grantkeeper-reports")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("grant-report-%s.pdf", at.Format("20060102T150405Z")))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, pdf, 0o640); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}
