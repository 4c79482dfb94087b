package server

import (
	"encoding/json"
	"net/http"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/solutions"
	"github.com/gin-gonic/gin"
)

type joinRequest struct {
	Code string `json:"code"`
}

type solutionRequest struct {
	SnapSolution string          `json:"snapSolution"`
	Details      json.RawMessage `json:"details"`
}

type solutionStoredResponse struct {
	Stored bool `json:"stored"`
}

func (h *httpHandler) handleListMyLobbies(c *gin.Context) {
	actor, _ := actorFromContext(c)
	list, err := h.lobbies.ListForUser(c.Request.Context(), actor.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) handleJoinLobby(c *gin.Context) {
	actor, _ := actorFromContext(c)
	var request joinRequest
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	lobby, err := h.lobbies.JoinByCode(c.Request.Context(), actor.ID, request.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lobby)
}

func (h *httpHandler) handleLeaveLobby(c *gin.Context) {
	actor, _ := actorFromContext(c)
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.lobbies.Leave(c.Request.Context(), actor.ID, lobbyID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMarkEntered(c *gin.Context) {
	actor, _ := actorFromContext(c)
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.lobbies.MarkEntered(c.Request.Context(), actor.ID, lobbyID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetLobbySolution(c *gin.Context) {
	actor, _ := actorFromContext(c)
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	stored, err := h.solutions.GetLobbySolution(c.Request.Context(), solutions.LobbyKey{UserID: actor.ID, LobbyID: lobbyID})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

// handleSubmitLobbySolution stores nothing for public lobbies and reports stored=false.
func (h *httpHandler) handleSubmitLobbySolution(c *gin.Context) {
	actor, _ := actorFromContext(c)
	lobbyID, err := pathID(c, "lobbyID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request solutionRequest
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	public, err := h.lobbies.IsLobbyPublic(c.Request.Context(), lobbyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if public {
		c.JSON(http.StatusOK, solutionStoredResponse{Stored: false})
		return
	}
	key := solutions.LobbyKey{UserID: actor.ID, LobbyID: lobbyID}
	if err := h.solutions.SubmitLobbySolution(c.Request.Context(), key, request.SnapSolution); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, solutionStoredResponse{Stored: true})
}

func (h *httpHandler) handleGetChallengeSolution(c *gin.Context) {
	actor, _ := actorFromContext(c)
	challengeID, err := pathID(c, "challengeID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	levelID, err := pathID(c, "levelID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	stored, err := h.solutions.GetChallengeSolution(c.Request.Context(), solutions.ChallengeKey{
		UserID:      actor.ID,
		ChallengeID: challengeID,
		LevelID:     levelID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *httpHandler) handleSubmitChallengeSolution(c *gin.Context) {
	actor, _ := actorFromContext(c)
	challengeID, err := pathID(c, "challengeID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	levelID, err := pathID(c, "levelID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request solutionRequest
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	if _, err := h.lobbies.GetLevel(ctx, challengeID, levelID); err != nil {
		h.respondError(c, err)
		return
	}
	lobbyID, err := h.lobbies.ChallengeLobbyID(ctx, challengeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	public, err := h.lobbies.IsLobbyPublic(ctx, lobbyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if public {
		c.JSON(http.StatusOK, solutionStoredResponse{Stored: false})
		return
	}
	key := solutions.ChallengeKey{UserID: actor.ID, ChallengeID: challengeID, LevelID: levelID}
	if err := h.solutions.SubmitChallengeSolution(ctx, key, request.SnapSolution, request.Details); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, solutionStoredResponse{Stored: true})
}
