package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantkeeper/grantkeeper/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	info      *asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	err       error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func (s stubInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.scheduled, s.err
}

func TestReportCommandEnqueuesGrantReport(t *testing.T) {
	enq := &stubEnqueuer{}
	c := &JobsCLI{client: enq}
	var stdout, stderr bytes.Buffer

	code := c.ReportCommand(context.Background(), ReportOptions{Stdout: &stdout, Stderr: &stderr})
	require.Equal(t, 0, code, stderr.String())
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, jobs.TaskGrantReport, enq.tasks[0].Type())

	var payload jobs.GrantReportPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, "manual", payload.Reason)
	assert.Contains(t, stdout.String(), "enqueued rbac:grant_report as t1")
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	c := &JobsCLI{client: &stubEnqueuer{}}
	_, err := c.Trigger(context.Background(), "mail:send", "")
	assert.Error(t, err)
}

func TestQueueCommandPrintsStats(t *testing.T) {
	next := time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)
	c := &JobsCLI{inspector: stubInspector{
		info:      &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 1, Retry: 2},
		scheduled: []*asynq.TaskInfo{{ID: "s1", Type: jobs.TaskGrantReport, NextProcessAt: next}},
	}}

	var stdout bytes.Buffer
	require.Equal(t, 0, c.QueueCommand(context.Background(), QueueOptions{Scheduled: 5, Stdout: &stdout}))
	assert.Contains(t, stdout.String(), "queue=default pending=1 active=0 scheduled=0 retry=2 archived=0")
	assert.Contains(t, stdout.String(), "s1 rbac:grant_report at 2026-10-17T03:00:00Z")

	stdout.Reset()
	require.Equal(t, 0, c.QueueCommand(context.Background(), QueueOptions{JSONOutput: true, Stdout: &stdout}))
	assert.JSONEq(t, `{"stats":{"queue":"default","pending":1,"active":0,"scheduled":0,"retry":2,"archived":0},"scheduled":[]}`, stdout.String())
}

func TestQueueCommandReportsInspectorFailure(t *testing.T) {
	c := &JobsCLI{inspector: stubInspector{err: errors.New("redis down")}}
	var stderr bytes.Buffer
	assert.Equal(t, 1, c.QueueCommand(context.Background(), QueueOptions{Stdout: &bytes.Buffer{}, Stderr: &stderr}))
	assert.Contains(t, stderr.String(), "redis down")
}

type stubMigrator struct {
	migrated bool
	err      error
}

func (s *stubMigrator) Migrate(context.Context) error {
	s.migrated = true
	return s.err
}

func (s *stubMigrator) Version(context.Context) (int64, error) { return 2, nil }

func TestMigrateCommand(t *testing.T) {
	m := &stubMigrator{}
	var stdout bytes.Buffer
	require.Equal(t, 0, MigrateCommand(context.Background(), m, MigrateOptions{StatusOnly: true, Stdout: &stdout}))
	assert.False(t, m.migrated)
	assert.Equal(t, "schema version 2\n", stdout.String())

	require.Equal(t, 0, MigrateCommand(context.Background(), m, MigrateOptions{Stdout: &bytes.Buffer{}}))
	assert.True(t, m.migrated)

	m.err = errors.New("dirty")
	assert.Equal(t, 1, MigrateCommand(context.Background(), m, MigrateOptions{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}))
}

type stubSeeder struct{ modules []string }

func (s *stubSeeder) SeedCatalog(_ context.Context, modules []string) error {
	s.modules = modules
	return nil
}

type stubBootstrapper struct{ calls int }

func (s *stubBootstrapper) BootstrapSuperadmin(context.Context, string, string) (bool, error) {
	s.calls++
	return s.calls == 1, nil
}

func TestSeedCommand(t *testing.T) {
	seeder := &stubSeeder{}
	boot := &stubBootstrapper{}
	var stdout bytes.Buffer

	opts := SeedOptions{Modules: []string{"billing", "payroll"}, SuperadminEmail: "root@example.com", SuperadminPassword: "pw", Stdout: &stdout}
	require.Equal(t, 0, SeedCommand(context.Background(), seeder, boot, opts))
	assert.Equal(t, []string{"billing", "payroll"}, seeder.modules)
	assert.Contains(t, stdout.String(), "superadmin root@example.com created")

	stdout.Reset()
	require.Equal(t, 0, SeedCommand(context.Background(), seeder, boot, opts))
	assert.Contains(t, stdout.String(), "superadmin already present")

	var stderr bytes.Buffer
	assert.Equal(t, 1, SeedCommand(context.Background(), seeder, boot, SeedOptions{Stdout: &stdout, Stderr: &stderr}))
}
