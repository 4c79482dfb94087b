package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/lobbies"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/notes"
	"github.com/gin-gonic/gin"
)

type lobbyRequest struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	Code               string `json:"code"`
	Outcome            string `json:"outcome"`
	SnapTemplate       string `json:"snapTemplate"`
	InstructionsBefore string `json:"instructionsBefore"`
	InstructionsAfter  string `json:"instructionsAfter"`
	Public             bool   `json:"public"`
	Tag                string `json:"tag"`
	Language           string `json:"language"`
}

type lobbyChangesRequest struct {
	Name               *string `json:"name"`
	Description        *string `json:"description"`
	Code               *string `json:"code"`
	Outcome            *string `json:"outcome"`
	SnapTemplate       *string `json:"snapTemplate"`
	InstructionsBefore *string `json:"instructionsBefore"`
	InstructionsAfter  *string `json:"instructionsAfter"`
	Public             *bool   `json:"public"`
	Tag                *string `json:"tag"`
	Language           *string `json:"language"`
}

type cloneRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tag         string `json:"tag"`
}

type cloneResponse struct {
	ID                int64   `json:"id"`
	NotesCloned       int     `json:"notesCloned"`
	ChallengesCloned  int     `json:"challengesCloned"`
	ChallengesSkipped []int64 `json:"challengesSkipped"`
}

type challengeOrderPayload struct {
	Order []int64 `json:"order"`
}

type challengeListResponse struct {
	Order      []int64             `json:"order"`
	Challenges []lobbies.Challenge `json:"challenges"`
}

func (h *httpHandler) handleCreateLobby(c *gin.Context) {
	actor, _ := actorFromContext(c)
	var request lobbyRequest
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	created, err := h.lobbies.Create(c.Request.Context(), lobbies.NewLobby{
		Name:               request.Name,
		Description:        request.Description,
		Code:               request.Code,
		Outcome:            request.Outcome,
		CreatedBy:          actor.ID,
		SnapTemplate:       request.SnapTemplate,
		InstructionsBefore: request.InstructionsBefore,
		InstructionsAfter:  request.InstructionsAfter,
		Public:             request.Public,
		Tag:                request.Tag,
		Language:           request.Language,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleListLobbies(c *gin.Context) {
	actor, _ := actorFromContext(c)
	var (
		list []lobbies.Lobby
		err  error
	)
	if h.access.IsFullyPrivileged(actor) {
		list, err = h.lobbies.ListAll(c.Request.Context())
	} else {
		list, err = h.lobbies.ListForCreator(c.Request.Context(), actor.ID)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) handleListPublicLobbies(c *gin.Context) {
	list, err := h.lobbies.ListPublic(c.Request.Context(), lobbies.PublicFilter{
		Query:    c.Query("q"),
		Language: c.Query("language"),
		Tag:      c.Query("tag"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) handleGetLobby(c *gin.Context) {
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	lobby, err := h.lobbies.Get(c.Request.Context(), lobbyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lobby)
}

func (h *httpHandler) handleUpdateLobby(c *gin.Context) {
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request lobbyChangesRequest
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	updated, err := h.lobbies.Update(c.Request.Context(), lobbyID, lobbies.LobbyChanges{
		Name:               request.Name,
		Description:        request.Description,
		Code:               request.Code,
		Outcome:            request.Outcome,
		SnapTemplate:       request.SnapTemplate,
		InstructionsBefore: request.InstructionsBefore,
		InstructionsAfter:  request.InstructionsAfter,
		Public:             request.Public,
		Tag:                request.Tag,
		Language:           request.Language,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteLobby(c *gin.Context) {
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.lobbies.Delete(c.Request.Context(), lobbyID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListMembers(c *gin.Context) {
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	members, err := h.lobbies.ListMembers(c.Request.Context(), lobbyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

func (h *httpHandler) handleListChallenges(c *gin.Context) {
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	order, err := h.lobbies.ChallengeOrder(c.Request.Context(), lobbyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	challenges, err := h.lobbies.ListChallenges(c.Request.Context(), lobbyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if order == nil {
		order = []int64{}
	}
	c.JSON(http.StatusOK, challengeListResponse{Order: order, Challenges: challenges})
}

func (h *httpHandler) handleGetChallengeOrder(c *gin.Context) {
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	order, err := h.lobbies.ChallengeOrder(c.Request.Context(), lobbyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if order == nil {
		order = []int64{}
	}
	c.JSON(http.StatusOK, challengeOrderPayload{Order: order})
}

func (h *httpHandler) handleSetChallengeOrder(c *gin.Context) {
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request challengeOrderPayload
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.lobbies.SetChallengeOrder(c.Request.Context(), lobbyID, request.Order); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	stored, err := h.notes.ListByLobby(c.Request.Context(), lobbyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]notes.Payload, 0, len(stored))
	for _, note := range stored {
		payloads = append(payloads, note.Payload())
	}
	c.JSON(http.StatusOK, payloads)
}

func (h *httpHandler) handleCloneLobby(c *gin.Context) {
	actor, _ := actorFromContext(c)
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request cloneRequest
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	result, err := h.lobbies.Clone(c.Request.Context(), lobbies.CloneRequest{
		SourceLobbyID: lobbyID,
		Code:          request.Code,
		CreatedBy:     actor.ID,
		Name:          request.Name,
		Description:   request.Description,
		Tag:           request.Tag,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	skipped := result.ChallengesSkipped
	if skipped == nil {
		skipped = []int64{}
	}
	c.JSON(http.StatusCreated, cloneResponse{
		ID:                result.Lobby.ID,
		NotesCloned:       result.NotesCloned,
		ChallengesCloned:  result.ChallengesCloned,
		ChallengesSkipped: skipped,
	})
}

func (h *httpHandler) handleListLobbySolutions(c *gin.Context) {
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	stored, err := h.solutions.ListForLobby(c.Request.Context(), lobbyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}
