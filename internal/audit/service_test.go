package audit

import (
	"context"
	"testing"
	"time"
)

type stubTimelineRepo struct {
	rows     []TimelineRow
	lastCall WindowQuery
}

func (s *stubTimelineRepo) Window(_ context.Context, q WindowQuery) ([]TimelineRow, error) {
	s.lastCall = q
	if q.Limit > 0 && len(s.rows) > q.Limit {
		return s.rows[:q.Limit], nil
	}
	return s.rows, nil
}

func mockRow(id int64, ts, action, entityID string) TimelineRow {
	at, _ := time.Parse(time.RFC3339, ts)
	return TimelineRow{ID: id, At: at, ActorID: 1, Action: action, Entity: "user_permissions", EntityID: entityID, Meta: map[string]any{}}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		mockRow(3, "2026-10-10T10:00:00Z", "rbac.assign", "4:10"),
		mockRow(2, "2026-10-09T09:00:00Z", "rbac.replace", "4:10"),
		mockRow(1, "2026-10-08T08:00:00Z", "rbac.remove", "4:11"),
	}}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{
		From:     time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC),
		Action:   " rbac.assign ",
		Page:     2,
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 3 || result.Paging.PrevPage != 1 {
		t.Fatalf("unexpected paging: %+v", result.Paging)
	}
	if repo.lastCall.Limit != 3 {
		t.Fatalf("expected limit 3, got %d", repo.lastCall.Limit)
	}
	if repo.lastCall.Offset != 2 {
		t.Fatalf("expected offset 2, got %d", repo.lastCall.Offset)
	}
	if repo.lastCall.Action != "rbac.assign" {
		t.Fatalf("expected trimmed action filter, got %q", repo.lastCall.Action)
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{PageSize: 500})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastCall.Limit != maxPageSize+1 {
		t.Fatalf("expected limit %d, got %d", maxPageSize+1, repo.lastCall.Limit)
	}
	if result.Rows == nil || result.Paging.Page != 1 || result.Paging.HasNext {
		t.Fatalf("unexpected empty result: %+v", result)
	}
}

func TestServiceExportUsesCeiling(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{mockRow(1, "2026-10-08T08:00:00Z", "subject.delete", "7")}}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{ActorID: 1})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if repo.lastCall.Limit != exportLimit || repo.lastCall.Offset != 0 || repo.lastCall.ActorID != 1 {
		t.Fatalf("unexpected query: %+v", repo.lastCall)
	}
}
