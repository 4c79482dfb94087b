package notes

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB, *observer.ObservedLogs) {
	t.Helper()

	dsn := fmt.Sprintf("file:notes_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Note{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	core, logs := observer.New(zap.ErrorLevel)
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{ids: ids},
		Logger:     zap.New(core),
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	return service, db, logs
}

func samplePayload(id string) Payload {
	return Payload{
		ID:       id,
		Content:  "idea",
		Type:     "text",
		Text:     "first idea",
		Position: Position{X: 10, Y: 20, Z: 1},
		Size:     Size{Width: 120, Height: 80},
		Color:    "#ffee00",
	}
}

func TestCreateStoresNote(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()

	if err := service.Create(ctx, 42, samplePayload("n1")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	stored, err := service.Get(ctx, 42, "n1")
	if err != nil {
		t.Fatalf("failed to load note: %v", err)
	}
	if stored.Payload() != samplePayload("n1") {
		t.Fatalf("unexpected stored payload %#v", stored.Payload())
	}
}

func TestCreateRejectsDuplicateIDAsConflict(t *testing.T) {
	service, _, logs := newTestService(t, nil)
	ctx := context.Background()

	if err := service.Create(ctx, 42, samplePayload("n1")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	err := service.Create(ctx, 7, samplePayload("n1"))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Field() != "id" {
		t.Fatalf("expected conflict on field id, got %#v", err)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected duplicate ids not to be logged as storage errors")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()

	if err := service.Create(ctx, 42, samplePayload("  ")); !apperr.Is(err, apperr.KindValidationFailed) {
		t.Fatalf("expected validation failure for empty id, got %v", err)
	}
	if err := service.Create(ctx, 0, samplePayload("n1")); !apperr.Is(err, apperr.KindValidationFailed) {
		t.Fatalf("expected validation failure for missing lobby, got %v", err)
	}
}

func TestMoveUpdatesOnlyPosition(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	if err := service.Create(ctx, 42, samplePayload("n1")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if err := service.Move(ctx, 42, "n1", Position{X: 5, Y: 6, Z: 7}); err != nil {
		t.Fatalf("unexpected move error: %v", err)
	}

	stored, err := service.Get(ctx, 42, "n1")
	if err != nil {
		t.Fatalf("failed to load note: %v", err)
	}
	if stored.X != 5 || stored.Y != 6 || stored.Z != 7 {
		t.Fatalf("unexpected position %v,%v,%v", stored.X, stored.Y, stored.Z)
	}
	if stored.Text != "first idea" || stored.Width != 120 {
		t.Fatalf("expected non positional fields to be untouched, got %#v", stored)
	}
}

func TestMoveUnknownNoteIsNotFound(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	if err := service.Move(context.Background(), 42, "missing", Position{}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMutationsAreScopedToLobby(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	if err := service.Create(ctx, 42, samplePayload("n1")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := service.Delete(ctx, 43, "n1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected delete from another lobby to be not found, got %v", err)
	}
	if _, err := service.Get(ctx, 42, "n1"); err != nil {
		t.Fatalf("expected note to survive: %v", err)
	}
}

func TestEditReplacesContent(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	if err := service.Create(ctx, 42, samplePayload("n1")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	edited := Payload{
		ID:       "n1",
		Content:  "data:image/png;base64,AAAA",
		Type:     "image",
		Text:     "",
		Position: Position{X: 1, Y: 2, Z: 3},
		Size:     Size{Width: 10, Height: 20},
		Locked:   true,
		Color:    "#000000",
	}
	if err := service.Edit(ctx, 42, edited); err != nil {
		t.Fatalf("unexpected edit error: %v", err)
	}
	stored, err := service.Get(ctx, 42, "n1")
	if err != nil {
		t.Fatalf("failed to load note: %v", err)
	}
	if stored.Payload() != edited {
		t.Fatalf("expected %#v, got %#v", edited, stored.Payload())
	}
}

func TestMoveThenRestackKeepsLastWrite(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	for _, id := range []string{"n1", "n2"} {
		if err := service.Create(ctx, 42, samplePayload(id)); err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
	}

	if err := service.Move(ctx, 42, "n1", Position{X: 1, Y: 1, Z: 9}); err != nil {
		t.Fatalf("unexpected move error: %v", err)
	}
	result := service.Restack(ctx, 42, []ZUpdate{{ID: "n1", Z: 2}, {ID: "n2", Z: 5}, {ID: "n1", Z: 4}})
	if result.Applied != 3 || len(result.Failures) != 0 {
		t.Fatalf("unexpected restack result %#v", result)
	}

	stored, err := service.Get(ctx, 42, "n1")
	if err != nil {
		t.Fatalf("failed to load note: %v", err)
	}
	if stored.Z != 4 {
		t.Fatalf("expected last written z 4, got %v", stored.Z)
	}
}

func TestRestackIsBestEffort(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	for _, id := range []string{"n1", "n2"} {
		if err := service.Create(ctx, 42, samplePayload(id)); err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
	}

	result := service.Restack(ctx, 42, []ZUpdate{{ID: "n1", Z: 8}, {ID: "ghost", Z: 3}, {ID: "n2", Z: 9}})
	if result.Applied != 2 {
		t.Fatalf("expected two applied updates, got %d", result.Applied)
	}
	if len(result.Failures) != 1 || result.Failures[0].NoteID != "ghost" {
		t.Fatalf("unexpected failures %#v", result.Failures)
	}

	snapshot, err := service.ListByLobby(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(snapshot) != 2 || snapshot[0].ID != "n1" || snapshot[1].ID != "n2" {
		t.Fatalf("expected snapshot ordered by z, got %#v", snapshot)
	}
}

func TestDeleteRemovesNote(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	if err := service.Create(ctx, 42, samplePayload("n1")); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := service.Delete(ctx, 42, "n1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := service.Delete(ctx, 42, "n1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected second delete to be not found, got %v", err)
	}
}

func TestCloneToLobbyAssignsFreshIDs(t *testing.T) {
	service, _, logs := newTestService(t, []string{"clone-1"})
	ctx := context.Background()
	for _, id := range []string{"n1", "n2"} {
		if err := service.Create(ctx, 42, samplePayload(id)); err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
	}

	cloned, err := service.CloneToLobby(ctx, 42, 99)
	if err != nil {
		t.Fatalf("unexpected clone error: %v", err)
	}
	if cloned != 1 {
		t.Fatalf("expected one clone before ids ran out, got %d", cloned)
	}
	if logs.FilterField(zap.String("reason", "id_generation_failed")).Len() != 1 {
		t.Fatalf("expected skipped note to be logged")
	}

	target, err := service.ListByLobby(ctx, 99)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(target) != 1 || target[0].ID != "clone-1" || target[0].Text != "first idea" {
		t.Fatalf("unexpected cloned notes %#v", target)
	}
	source, err := service.ListByLobby(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(source) != 2 {
		t.Fatalf("expected source lobby to be untouched, got %d notes", len(source))
	}
}
