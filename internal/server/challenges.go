package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/access"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/lobbies"
	"github.com/gin-gonic/gin"
)

const opLevelSolution = "server.level_solution"

type challengeRequest struct {
	LobbyID          flexibleID      `json:"lobbyid"`
	Name             string          `json:"name"`
	Minigame         string          `json:"minigame"`
	MinigameCategory string          `json:"minigameCategory"`
	Description      string          `json:"description"`
	Variables        json.RawMessage `json:"variables"`
	Tag              string          `json:"tag"`
}

func (r challengeRequest) input() lobbies.ChallengeInput {
	return lobbies.ChallengeInput{
		Name:             r.Name,
		Minigame:         r.Minigame,
		MinigameCategory: r.MinigameCategory,
		Description:      r.Description,
		Variables:        r.Variables,
		Tag:              r.Tag,
	}
}

type levelRequest struct {
	Ord             int             `json:"ord"`
	Instructions    json.RawMessage `json:"instructions"`
	Snap            string          `json:"snap"`
	SnapSolution    string          `json:"snapSolution"`
	SolutionEnabled bool            `json:"solutionEnabled"`
}

func (r levelRequest) input() lobbies.LevelInput {
	return lobbies.LevelInput{
		Ord:             r.Ord,
		Instructions:    r.Instructions,
		Snap:            r.Snap,
		SnapSolution:    r.SnapSolution,
		SolutionEnabled: r.SolutionEnabled,
	}
}

func (h *httpHandler) handleCreateChallenge(c *gin.Context) {
	var request challengeRequest
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	lobbyID, err := strconv.ParseInt(string(request.LobbyID), 10, 64)
	if err != nil || lobbyID <= 0 {
		h.respondError(c, apperr.New(apperr.KindValidationFailed, "server.create_challenge", "invalid_lobbyid", errInvalidIdentifier).WithField("lobbyid"))
		return
	}
	created, err := h.lobbies.CreateChallenge(c.Request.Context(), lobbyID, request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleGetChallenge(c *gin.Context) {
	challengeID, err := pathID(c, "challengeID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	challenge, err := h.lobbies.GetChallenge(c.Request.Context(), challengeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

func (h *httpHandler) handleUpdateChallenge(c *gin.Context) {
	challengeID, err := pathID(c, "challengeID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request challengeRequest
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	updated, err := h.lobbies.UpdateChallenge(c.Request.Context(), challengeID, request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteChallenge(c *gin.Context) {
	challengeID, err := pathID(c, "challengeID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.lobbies.DeleteChallenge(c.Request.Context(), challengeID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleListLevels hides level solutions from actors below the creator tier unless the level
// enables them.
func (h *httpHandler) handleListLevels(c *gin.Context) {
	challengeID, err := pathID(c, "challengeID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	levels, err := h.lobbies.ListLevels(c.Request.Context(), challengeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	canSeeSolutions := h.passesCreatorTier(c)
	for index := range levels {
		if !canSeeSolutions && !levels[index].SolutionEnabled {
			levels[index].SnapSolution = ""
		}
	}
	c.JSON(http.StatusOK, levels)
}

func (h *httpHandler) handleCreateLevel(c *gin.Context) {
	challengeID, err := pathID(c, "challengeID")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var request levelRequest
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	created, err := h.lobbies.CreateLevel(c.Request.Context(), challengeID, request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleUpdateLevel(c *gin.Context) {
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
	var request levelRequest
	if err := bindJSON(c, &request); err != nil {
		h.respondError(c, err)
		return
	}
	updated, err := h.lobbies.UpdateLevel(c.Request.Context(), challengeID, levelID, request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteLevel(c *gin.Context) {
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
	if err := h.lobbies.DeleteLevel(c.Request.Context(), challengeID, levelID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetLevelSolution(c *gin.Context) {
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
	level, err := h.lobbies.GetLevel(c.Request.Context(), challengeID, levelID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !level.SolutionEnabled && !h.passesCreatorTier(c) {
		h.respondError(c, apperr.New(apperr.KindUnauthorized, opLevelSolution, "solution_hidden", nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapSolution": level.SnapSolution})
}

func (h *httpHandler) passesCreatorTier(c *gin.Context) bool {
	actor, ok := actorFromContext(c)
	if !ok {
		return false
	}
	decision := h.access.ResolveSource(c.Request.Context(), actor, access.CapabilityCreator, access.LobbyRefSource{
		PathLobbyID: c.Param("lobbyID"),
		ChallengeID: c.Param("challengeID"),
	})
	return decision.Allowed()
}
