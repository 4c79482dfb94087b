package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/lobbies"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/solutions"
)

func TestHealthzIsPublic(t *testing.T) {
	server := newTestServer(t, nil)
	recorder := server.do(t, nil, http.MethodGet, "/healthz", nil)
	expectStatus(t, recorder, http.StatusOK)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server := newTestServer(t, nil)
	recorder := server.do(t, nil, http.MethodGet, "/me/lobbies", nil)
	expectStatus(t, recorder, http.StatusUnauthorized)
}

func TestCreateLobbyRequiresPrivilegedRole(t *testing.T) {
	server := newTestServer(t, nil)

	recorder := server.do(t, &studentOne, http.MethodPost, "/lobbies", map[string]interface{}{"name": "Nope", "code": "nope"})
	expectStatus(t, recorder, http.StatusUnauthorized)

	created := server.createLobby(t, teacherOne, "Room-A", false)
	if created.Code != "room-a" || created.CreatedBy != teacherOne.ID {
		t.Fatalf("unexpected lobby %#v", created)
	}
}

func TestCreateLobbyCodeCollisionIsConflict(t *testing.T) {
	server := newTestServer(t, nil)
	server.createLobby(t, teacherOne, "shared", false)

	recorder := server.do(t, &teacherTwo, http.MethodPost, "/lobbies", map[string]interface{}{"name": "Other", "code": "SHARED"})
	expectStatus(t, recorder, http.StatusConflict)
	var body map[string]string
	decodeBody(t, recorder, &body)
	if body["error"] != "conflict" || body["field"] != "code" {
		t.Fatalf("unexpected conflict body %#v", body)
	}
}

func TestLobbyAccessTiers(t *testing.T) {
	server := newTestServer(t, nil)
	private := server.createLobby(t, teacherOne, "private-1", false)
	public := server.createLobby(t, teacherOne, "public-1", true)
	privatePath := fmt.Sprintf("/lobbies/%d", private.ID)
	publicPath := fmt.Sprintf("/lobbies/%d", public.ID)

	expectStatus(t, server.do(t, &teacherOne, http.MethodGet, privatePath, nil), http.StatusOK)
	expectStatus(t, server.do(t, &adminOne, http.MethodGet, privatePath, nil), http.StatusOK)
	expectStatus(t, server.do(t, &teacherTwo, http.MethodGet, privatePath, nil), http.StatusUnauthorized)
	expectStatus(t, server.do(t, &teacherTwo, http.MethodGet, publicPath, nil), http.StatusOK)
	expectStatus(t, server.do(t, &studentOne, http.MethodGet, publicPath, nil), http.StatusUnauthorized)
	expectStatus(t, server.do(t, &studentOne, http.MethodGet, privatePath, nil), http.StatusUnauthorized)

	join := server.do(t, &studentOne, http.MethodPost, "/me/lobbies", map[string]string{"code": "PRIVATE-1"})
	expectStatus(t, join, http.StatusOK)
	expectStatus(t, server.do(t, &studentOne, http.MethodGet, privatePath, nil), http.StatusOK)

	again := server.do(t, &studentOne, http.MethodPost, "/me/lobbies", map[string]string{"code": "private-1"})
	expectStatus(t, again, http.StatusConflict)

	expectStatus(t, server.do(t, &teacherTwo, http.MethodPut, privatePath, map[string]string{"name": "Hijack"}), http.StatusUnauthorized)
	expectStatus(t, server.do(t, &adminOne, http.MethodPut, privatePath, map[string]string{"name": "Renamed"}), http.StatusOK)

	members := server.do(t, &teacherOne, http.MethodGet, privatePath+"/members", nil)
	expectStatus(t, members, http.StatusOK)
	var views []lobbies.MemberView
	decodeBody(t, members, &views)
	if len(views) != 1 || views[0].Username != studentOne.Username {
		t.Fatalf("unexpected members %#v", views)
	}

	expectStatus(t, server.do(t, &studentOne, http.MethodDelete, fmt.Sprintf("/me/lobbies/%d", private.ID), nil), http.StatusNoContent)
	expectStatus(t, server.do(t, &studentOne, http.MethodGet, privatePath, nil), http.StatusUnauthorized)
	expectStatus(t, server.do(t, &studentOne, http.MethodDelete, fmt.Sprintf("/me/lobbies/%d", private.ID), nil), http.StatusNotFound)
}

func TestUnresolvableReferenceIsUnauthorized(t *testing.T) {
	server := newTestServer(t, nil)

	recorder := server.do(t, &teacherOne, http.MethodGet, "/challenges/999", nil)
	expectStatus(t, recorder, http.StatusUnauthorized)
	var body map[string]string
	decodeBody(t, recorder, &body)
	if body["code"] != "access.unresolvable" {
		t.Fatalf("expected unresolvable code, got %#v", body)
	}
}

func TestChallengeLifecycleThroughBodyReference(t *testing.T) {
	server := newTestServer(t, nil)
	lobby := server.createLobby(t, teacherOne, "challenges", false)

	denied := server.do(t, &teacherTwo, http.MethodPost, "/challenges", map[string]interface{}{"lobbyid": lobby.ID, "name": "Sneaky"})
	expectStatus(t, denied, http.StatusUnauthorized)

	created := server.do(t, &teacherOne, http.MethodPost, "/challenges", map[string]interface{}{
		"lobbyid":   fmt.Sprintf("%d", lobby.ID),
		"name":      "Loops",
		"variables": map[string]int{"timer": 5},
	})
	expectStatus(t, created, http.StatusCreated)
	var challenge lobbies.Challenge
	decodeBody(t, created, &challenge)
	if challenge.LobbyID != lobby.ID || string(challenge.Variables) != `{"timer":20}` {
		t.Fatalf("unexpected challenge %#v", challenge)
	}

	order := server.do(t, &teacherOne, http.MethodGet, fmt.Sprintf("/lobbies/%d/challenges/order", lobby.ID), nil)
	expectStatus(t, order, http.StatusOK)
	var orderBody challengeOrderPayload
	decodeBody(t, order, &orderBody)
	if len(orderBody.Order) != 1 || orderBody.Order[0] != challenge.ID {
		t.Fatalf("unexpected order %#v", orderBody)
	}

	challengePath := fmt.Sprintf("/challenges/%d", challenge.ID)
	hijack := server.do(t, &teacherTwo, http.MethodPut, challengePath, map[string]interface{}{"lobbyid": lobby.ID, "name": "Mine"})
	expectStatus(t, hijack, http.StatusUnauthorized)

	level := server.do(t, &teacherOne, http.MethodPost, challengePath+"/levels", map[string]interface{}{
		"ord":          1,
		"snap":         "<template/>",
		"snapSolution": "<answer/>",
	})
	expectStatus(t, level, http.StatusCreated)
	var createdLevel lobbies.Level
	decodeBody(t, level, &createdLevel)

	expectStatus(t, server.do(t, &studentOne, http.MethodPost, "/me/lobbies", map[string]string{"code": "challenges"}), http.StatusOK)

	levels := server.do(t, &studentOne, http.MethodGet, challengePath+"/levels", nil)
	expectStatus(t, levels, http.StatusOK)
	var listed []lobbies.Level
	decodeBody(t, levels, &listed)
	if len(listed) != 1 || listed[0].SnapSolution != "" {
		t.Fatalf("expected hidden solution for student, got %#v", listed)
	}
	solutionPath := fmt.Sprintf("%s/levels/%d/solution", challengePath, createdLevel.ID)
	expectStatus(t, server.do(t, &studentOne, http.MethodGet, solutionPath, nil), http.StatusUnauthorized)
	expectStatus(t, server.do(t, &teacherOne, http.MethodGet, solutionPath, nil), http.StatusOK)

	expectStatus(t, server.do(t, &teacherOne, http.MethodDelete, challengePath, nil), http.StatusNoContent)
	order = server.do(t, &teacherOne, http.MethodGet, fmt.Sprintf("/lobbies/%d/challenges/order", lobby.ID), nil)
	decodeBody(t, order, &orderBody)
	if len(orderBody.Order) != 0 {
		t.Fatalf("expected deleted challenge removed from order, got %#v", orderBody)
	}
}

func TestSubmitChallengeSolutionTwiceUpdates(t *testing.T) {
	server := newTestServer(t, nil)
	lobby := server.createLobby(t, teacherOne, "solutions", false)
	challenge, err := server.lobbies.CreateChallenge(t.Context(), lobby.ID, lobbies.ChallengeInput{Name: "Sorting"})
	if err != nil {
		t.Fatalf("failed to create challenge: %v", err)
	}
	level, err := server.lobbies.CreateLevel(t.Context(), challenge.ID, lobbies.LevelInput{Ord: 1})
	if err != nil {
		t.Fatalf("failed to create level: %v", err)
	}
	expectStatus(t, server.do(t, &studentOne, http.MethodPost, "/me/lobbies", map[string]string{"code": "solutions"}), http.StatusOK)

	path := fmt.Sprintf("/me/challenges/%d/solution/%d", challenge.ID, level.ID)
	for attempt := 0; attempt < 2; attempt++ {
		recorder := server.do(t, &studentOne, http.MethodPost, path, map[string]interface{}{
			"snapSolution": fmt.Sprintf("<attempt n=\"%d\"/>", attempt),
			"details":      map[string]int{"attempt": attempt},
		})
		expectStatus(t, recorder, http.StatusOK)
		var body solutionStoredResponse
		decodeBody(t, recorder, &body)
		if !body.Stored {
			t.Fatalf("expected solution to be stored")
		}
	}

	stored, err := server.solutions.GetChallengeSolution(t.Context(), solutions.ChallengeKey{
		UserID:      studentOne.ID,
		ChallengeID: challenge.ID,
		LevelID:     level.ID,
	})
	if err != nil {
		t.Fatalf("expected stored solution: %v", err)
	}
	if stored.TimesUpdated != 1 {
		t.Fatalf("expected second submission to update, times_updated=%d", stored.TimesUpdated)
	}

	readBack := server.do(t, &studentOne, http.MethodGet, path, nil)
	expectStatus(t, readBack, http.StatusOK)
}

func TestSubmitLobbySolutionSkipsPublicLobby(t *testing.T) {
	server := newTestServer(t, nil)
	lobby := server.createLobby(t, teacherOne, "open", true)

	recorder := server.do(t, &teacherTwo, http.MethodPost, fmt.Sprintf("/me/lobbies/%d/solution", lobby.ID), map[string]string{"snapSolution": "<x/>"})
	expectStatus(t, recorder, http.StatusOK)
	var body solutionStoredResponse
	decodeBody(t, recorder, &body)
	if body.Stored {
		t.Fatalf("expected public lobby solution not to be stored")
	}
	expectStatus(t, server.do(t, &teacherTwo, http.MethodGet, fmt.Sprintf("/me/lobbies/%d/solution", lobby.ID), nil), http.StatusNotFound)
}

func TestCloneLobbyReturnsNewID(t *testing.T) {
	server := newTestServer(t, nil)
	source := server.createLobby(t, teacherOne, "source", true)
	for _, name := range []string{"first", "second"} {
		if _, err := server.lobbies.CreateChallenge(t.Context(), source.ID, lobbies.ChallengeInput{Name: name}); err != nil {
			t.Fatalf("failed to seed challenge: %v", err)
		}
	}

	recorder := server.do(t, &teacherTwo, http.MethodPost, fmt.Sprintf("/lobbies/%d/clone", source.ID), map[string]string{
		"code": "copy",
		"name": "Copy",
	})
	expectStatus(t, recorder, http.StatusCreated)
	var body cloneResponse
	decodeBody(t, recorder, &body)
	if body.ID == 0 || body.ID == source.ID || body.ChallengesCloned != 2 {
		t.Fatalf("unexpected clone response %#v", body)
	}
	clone, err := server.lobbies.Get(t.Context(), body.ID)
	if err != nil {
		t.Fatalf("failed to load clone: %v", err)
	}
	if clone.CreatedBy != teacherTwo.ID || len(clone.ChallengeOrder) != 2 {
		t.Fatalf("unexpected clone %#v", clone)
	}

	taken := server.do(t, &teacherTwo, http.MethodPost, fmt.Sprintf("/lobbies/%d/clone", source.ID), map[string]string{"code": "COPY", "name": "Again"})
	expectStatus(t, taken, http.StatusConflict)
}

func TestListLobbiesScopesByRole(t *testing.T) {
	server := newTestServer(t, nil)
	server.createLobby(t, teacherOne, "one", false)
	server.createLobby(t, teacherTwo, "two", false)

	var own []lobbies.Lobby
	recorder := server.do(t, &teacherOne, http.MethodGet, "/lobbies", nil)
	expectStatus(t, recorder, http.StatusOK)
	decodeBody(t, recorder, &own)
	if len(own) != 1 || own[0].Code != "one" {
		t.Fatalf("expected only own lobby, got %#v", own)
	}

	var all []lobbies.Lobby
	recorder = server.do(t, &adminOne, http.MethodGet, "/lobbies", nil)
	expectStatus(t, recorder, http.StatusOK)
	decodeBody(t, recorder, &all)
	if len(all) != 2 {
		t.Fatalf("expected every lobby for admin, got %d", len(all))
	}
}
