package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/access"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/auth"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/database"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/lobbies"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/notes"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/realtime"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/solutions"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	teacherOne = auth.Actor{ID: "teacher-1", Username: "Ada", Role: "teacher"}
	teacherTwo = auth.Actor{ID: "teacher-2", Username: "Grace", Role: "teacher"}
	studentOne = auth.Actor{ID: "student-1", Username: "Linus", Role: "student"}
	adminOne   = auth.Actor{ID: "admin-1", Username: "Root", Role: "admin"}
)

type testServer struct {
	handler     http.Handler
	issuer      *auth.TokenIssuer
	db          *gorm.DB
	lobbies     *lobbies.Service
	solutions   *solutions.Service
	revocations auth.RevocationList
}

func newTestServer(t *testing.T, revocations auth.RevocationList) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("server-test-secret"),
		Issuer:        "lobbyboard-test",
		Audience:      "lobbyboard-clients",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	noteService, err := notes.NewService(notes.ServiceConfig{Database: db, IDProvider: notes.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	solutionService, err := solutions.NewService(solutions.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct solutions service: %v", err)
	}
	lobbyService, err := lobbies.NewService(lobbies.ServiceConfig{Database: db, Notes: noteService, Solutions: solutionService})
	if err != nil {
		t.Fatalf("failed to construct lobbies service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	resolver, err := access.NewResolver(access.ResolverConfig{
		Directory:            lobbyService,
		PrivilegedRoles:      []string{"teacher", "admin"},
		FullyPrivilegedRoles: []string{"admin"},
	})
	if err != nil {
		t.Fatalf("failed to construct resolver: %v", err)
	}
	hub := realtime.NewHub(realtime.HubConfig{})
	board, err := realtime.NewBoard(realtime.BoardConfig{Hub: hub, Notes: noteService, Authorizer: resolver})
	if err != nil {
		t.Fatalf("failed to construct board: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:         issuer,
		Revocations:    revocations,
		Users:          userService,
		Lobbies:        lobbyService,
		Notes:          noteService,
		Solutions:      solutionService,
		Access:         resolver,
		Hub:            hub,
		Board:          board,
		AllowedOrigins: []string{"*"},
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return &testServer{
		handler:     handler,
		issuer:      issuer,
		db:          db,
		lobbies:     lobbyService,
		solutions:   solutionService,
		revocations: revocations,
	}
}

func (s *testServer) token(t *testing.T, actor auth.Actor) string {
	t.Helper()
	issued, err := s.issuer.IssueToken(context.Background(), actor)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return issued.Value
}

func (s *testServer) do(t *testing.T, actor *auth.Actor, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		request.Header.Set("Authorization", "Bearer "+s.token(t, *actor))
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, status int) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
}

func (s *testServer) createLobby(t *testing.T, actor auth.Actor, code string, public bool) lobbies.Lobby {
	t.Helper()
	recorder := s.do(t, &actor, http.MethodPost, "/lobbies", map[string]interface{}{
		"name":   "Lobby " + code,
		"code":   code,
		"public": public,
	})
	expectStatus(t, recorder, http.StatusCreated)
	var created lobbies.Lobby
	decodeBody(t, recorder, &created)
	return created
}
