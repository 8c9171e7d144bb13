package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{DB: db}, mock
}

func projectColumns() []string {
	return []string{"id", "name", "status", "current_manifest", "created_at"}
}

func TestGetOrCreateProjectExisting(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT id, name, status, current_manifest, created_at FROM projects`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(projectColumns()).
			AddRow("p1", "New Session", ProjectStatusProduction, `{"type":"manifest","steps":[]}`, time.Now()))

	p, err := s.GetOrCreateProject(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetOrCreateProject: %v", err)
	}
	if p.Status != ProjectStatusProduction {
		t.Fatalf("status = %s", p.Status)
	}
	if len(p.CurrentManifest) == 0 {
		t.Fatal("manifest not loaded")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetOrCreateProjectInsertsOnMiss(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT id, name, status, current_manifest, created_at FROM projects`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(projectColumns()))
	mock.ExpectQuery(`INSERT INTO projects`).
		WithArgs("p1", ProjectStatusDevelopment).
		WillReturnRows(sqlmock.NewRows(projectColumns()).
			AddRow("p1", "New Session", ProjectStatusDevelopment, nil, time.Now()))

	p, err := s.GetOrCreateProject(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetOrCreateProject: %v", err)
	}
	if p.Status != ProjectStatusDevelopment || p.CurrentManifest != nil {
		t.Fatalf("fresh project = %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetOrCreateProjectRejectsBlankID(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.GetOrCreateProject(context.Background(), "  "); err == nil {
		t.Fatal("blank project id must be rejected")
	}
}

func TestUpdateProjectManifestFlipsStatus(t *testing.T) {
	s, mock := newTestStore(t)
	manifest := []byte(`{"type":"manifest","steps":[{"id":"s1"}]}`)
	mock.ExpectExec(`UPDATE projects SET status=`).
		WithArgs("p1", ProjectStatusProduction, string(manifest)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.UpdateProjectManifest(context.Background(), "p1", manifest); err != nil {
		t.Fatalf("set manifest: %v", err)
	}

	mock.ExpectExec(`UPDATE projects SET status=`).
		WithArgs("p1", ProjectStatusDevelopment, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.UpdateProjectManifest(context.Background(), "p1", nil); err != nil {
		t.Fatalf("clear manifest: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateProjectManifestMissingProject(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec(`UPDATE projects SET status=`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.UpdateProjectManifest(context.Background(), "ghost", nil); err == nil {
		t.Fatal("update of a missing project must fail")
	}
}

func TestLogEventReturnsID(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`INSERT INTO events`).
		WithArgs("p1", SourceDirector, EventChat, "Here is the concept.", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))

	id, err := s.LogEvent(context.Background(), "p1", Event{
		Source: SourceDirector, Type: EventChat, Content: "Here is the concept.",
	})
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if id != 41 {
		t.Fatalf("id = %d", id)
	}
}

func TestLogEventMarshalsMetadata(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`INSERT INTO events`).
		WithArgs("p1", SourceProducer, EventLog, "Initiating Task: VO", `{"step":"step-1"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	_, err := s.LogEvent(context.Background(), "p1", Event{
		Source: SourceProducer, Type: EventLog, Content: "Initiating Task: VO",
		Metadata: map[string]interface{}{"step": "step-1"},
	})
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLogEventRequiresSource(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.LogEvent(context.Background(), "p1", Event{Content: "orphan"}); err == nil {
		t.Fatal("event without a source must be rejected")
	}
}

func TestListEventsDecodesMetadata(t *testing.T) {
	s, mock := newTestStore(t)
	rows := sqlmock.NewRows([]string{"id", "project_id", "source", "type", "content", "metadata", "created_at"}).
		AddRow(int64(1), "p1", SourceUser, EventChat, "make a bee video", nil, time.Now()).
		AddRow(int64(2), "p1", SourceDirector, EventChat, "[Tool Executing...]", `{"toolCalls":[{"id":"c1","name":"voiceover","args":{}}]}`, time.Now())
	mock.ExpectQuery(`SELECT id, project_id, source, type, content, metadata, created_at`).
		WithArgs("p1").
		WillReturnRows(rows)

	events, err := s.ListEvents(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].Metadata != nil {
		t.Fatal("nil metadata must stay nil")
	}
	if events[1].Metadata["toolCalls"] == nil {
		t.Fatal("metadata not decoded")
	}
}

func TestListEventsCorruptMetadata(t *testing.T) {
	s, mock := newTestStore(t)
	rows := sqlmock.NewRows([]string{"id", "project_id", "source", "type", "content", "metadata", "created_at"}).
		AddRow(int64(1), "p1", SourceUser, EventChat, "hi", `{broken`, time.Now())
	mock.ExpectQuery(`SELECT id, project_id, source, type, content, metadata, created_at`).
		WillReturnRows(rows)

	if _, err := s.ListEvents(context.Background(), "p1"); err == nil {
		t.Fatal("corrupt metadata must surface an error")
	}
}

func TestClearEvents(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec(`DELETE FROM events WHERE project_id=`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	if err := s.ClearEvents(context.Background(), "p1"); err != nil {
		t.Fatalf("ClearEvents: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
