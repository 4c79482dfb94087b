package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/access"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/auth"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/lobbies"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/notes"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/realtime"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/solutions"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	actorContextKey       = "lobbyboard_actor"
	tokenContextKey       = "lobbyboard_token"
	tokenExpiryContextKey = "lobbyboard_token_expiry"
	queryTokenParameter   = "access_token"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingLobbiesService = errors.New("lobbies service dependency required")
	errMissingNotesService   = errors.New("notes service dependency required")
	errMissingSolutions      = errors.New("solutions service dependency required")
	errMissingResolver       = errors.New("access resolver dependency required")
	errMissingRealtime       = errors.New("realtime hub and board dependencies required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (auth.Actor, time.Time, error)
}

// UserDirectory records authenticated actors.
type UserDirectory interface {
	Touch(ctx context.Context, actor auth.Actor) error
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Tokens         TokenValidator
	Revocations    auth.RevocationList
	Users          UserDirectory
	Lobbies        *lobbies.Service
	Notes          *notes.Service
	Solutions      *solutions.Service
	Access         *access.Resolver
	Hub            *realtime.Hub
	Board          *realtime.Board
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router with every route registered.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Lobbies == nil {
		return nil, errMissingLobbiesService
	}
	if deps.Notes == nil {
		return nil, errMissingNotesService
	}
	if deps.Solutions == nil {
		return nil, errMissingSolutions
	}
	if deps.Access == nil {
		return nil, errMissingResolver
	}
	if deps.Hub == nil || deps.Board == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	revocations := deps.Revocations
	if revocations == nil {
		revocations = auth.NoopRevocationList{}
	}

	handler := &httpHandler{
		tokens:      deps.Tokens,
		revocations: revocations,
		users:       deps.Users,
		lobbies:     deps.Lobbies,
		notes:       deps.Notes,
		solutions:   deps.Solutions,
		access:      deps.Access,
		hub:         deps.Hub,
		board:       deps.Board,
		logger:      logger,
		upgrader:    newUpgrader(deps.AllowedOrigins),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", handler.handleHealth)
	router.GET("/socket", handler.authenticate(true), handler.handleSocket)

	protected := router.Group("/")
	protected.Use(handler.authenticate(false))
	protected.POST("/auth/logout", handler.handleLogout)

	privileged := handler.requireCapability(access.CapabilityPrivileged)
	creator := handler.requireCapability(access.CapabilityCreator)
	member := handler.requireCapability(access.CapabilityMember)

	protected.POST("/lobbies", privileged, handler.handleCreateLobby)
	protected.GET("/lobbies", privileged, handler.handleListLobbies)
	protected.GET("/lobbies/public", privileged, handler.handleListPublicLobbies)
	protected.GET("/lobbies/:lobbyID", member, handler.handleGetLobby)
	protected.PUT("/lobbies/:lobbyID", creator, handler.handleUpdateLobby)
	protected.DELETE("/lobbies/:lobbyID", creator, handler.handleDeleteLobby)
	protected.GET("/lobbies/:lobbyID/members", member, handler.handleListMembers)
	protected.GET("/lobbies/:lobbyID/challenges", member, handler.handleListChallenges)
	protected.GET("/lobbies/:lobbyID/challenges/order", member, handler.handleGetChallengeOrder)
	protected.PUT("/lobbies/:lobbyID/challenges/order", creator, handler.handleSetChallengeOrder)
	protected.GET("/lobbies/:lobbyID/notes", member, handler.handleListNotes)
	protected.POST("/lobbies/:lobbyID/clone", privileged, member, handler.handleCloneLobby)
	protected.GET("/lobbies/:lobbyID/solutions", creator, handler.handleListLobbySolutions)

	protected.POST("/challenges", privileged, creator, handler.handleCreateChallenge)
	protected.GET("/challenges/:challengeID", member, handler.handleGetChallenge)
	protected.PUT("/challenges/:challengeID", privileged, creator, handler.handleUpdateChallenge)
	protected.DELETE("/challenges/:challengeID", creator, handler.handleDeleteChallenge)
	protected.GET("/challenges/:challengeID/levels", member, handler.handleListLevels)
	protected.POST("/challenges/:challengeID/levels", creator, handler.handleCreateLevel)
	protected.PUT("/challenges/:challengeID/levels/:levelID", creator, handler.handleUpdateLevel)
	protected.DELETE("/challenges/:challengeID/levels/:levelID", creator, handler.handleDeleteLevel)
	protected.GET("/challenges/:challengeID/levels/:levelID/solution", member, handler.handleGetLevelSolution)

	protected.GET("/me/lobbies", handler.handleListMyLobbies)
	protected.POST("/me/lobbies", handler.handleJoinLobby)
	protected.DELETE("/me/lobbies/:lobbyID", handler.handleLeaveLobby)
	protected.POST("/me/lobbies/:lobbyID/entered", member, handler.handleMarkEntered)
	protected.GET("/me/lobbies/:lobbyID/solution", member, handler.handleGetLobbySolution)
	protected.POST("/me/lobbies/:lobbyID/solution", member, handler.handleSubmitLobbySolution)
	protected.GET("/me/challenges/:challengeID/solution/:levelID", member, handler.handleGetChallengeSolution)
	protected.POST("/me/challenges/:challengeID/solution/:levelID", member, handler.handleSubmitChallengeSolution)

	return router, nil
}

type httpHandler struct {
	tokens      TokenValidator
	revocations auth.RevocationList
	users       UserDirectory
	lobbies     *lobbies.Service
	notes       *notes.Service
	solutions   *solutions.Service
	access      *access.Resolver
	hub         *realtime.Hub
	board       *realtime.Board
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if allowsAnyOrigin(allowedOrigins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func allowsAnyOrigin(allowedOrigins []string) bool {
	if len(allowedOrigins) == 0 {
		return true
	}
	for _, origin := range allowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			return true
		}
	}
	return false
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authenticate validates the bearer token, rejects revoked tokens and records the actor.
// allowQuery admits the token as a query parameter for clients that cannot set headers.
func (h *httpHandler) authenticate(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c, allowQuery)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		}
		actor, expiresAt, err := h.tokens.ValidateToken(token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				h.logger.Info("token validation failed", zap.Error(err))
			} else {
				h.logger.Warn("token validation failed", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		revoked, err := h.revocations.IsRevoked(c.Request.Context(), token)
		if err != nil {
			h.logger.Error("token revocation lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "revocation_lookup_failed"})
			return
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token_revoked"})
			return
		}
		if h.users != nil {
			if err := h.users.Touch(c.Request.Context(), actor); err != nil {
				h.logger.Warn("user directory update failed", zap.String("user_id", actor.ID), zap.Error(err))
			}
		}
		c.Set(actorContextKey, actor)
		c.Set(tokenContextKey, token)
		c.Set(tokenExpiryContextKey, expiresAt)
		c.Next()
	}
}

func bearerToken(c *gin.Context, allowQuery bool) (string, bool) {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return token, token != ""
	}
	if allowQuery && header == "" {
		token := strings.TrimSpace(c.Query(queryTokenParameter))
		return token, token != ""
	}
	return "", false
}

func actorFromContext(c *gin.Context) (auth.Actor, bool) {
	value, exists := c.Get(actorContextKey)
	if !exists {
		return auth.Actor{}, false
	}
	actor, ok := value.(auth.Actor)
	return actor, ok && actor.ID != ""
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	token := c.GetString(tokenContextKey)
	expiresAt := c.GetTime(tokenExpiryContextKey)
	if err := h.revocations.Revoke(c.Request.Context(), token, expiresAt); err != nil {
		h.logger.Error("token revocation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
