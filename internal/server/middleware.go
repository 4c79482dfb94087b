package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/access"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

var errInvalidIdentifier = errors.New("identifier must be a positive integer")

// flexibleID accepts an identifier sent either as a JSON number or a JSON string.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(trimmed); err == nil {
		*f = flexibleID(unquoted)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	*f = flexibleID(number.String())
	return nil
}

type lobbyRefBody struct {
	LobbyID flexibleID `json:"lobbyid"`
}

// requireCapability guards a route with the access resolver. The lobby is taken from the
// :lobbyID path parameter, then the "lobbyid" body field, then the :challengeID's lobby.
// The body is only consulted on routes without a path reference.
func (h *httpHandler) requireCapability(capability access.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		source := access.LobbyRefSource{
			PathLobbyID: c.Param("lobbyID"),
			ChallengeID: c.Param("challengeID"),
		}
		if source.PathLobbyID == "" && source.ChallengeID == "" && hasBody(c) {
			var body lobbyRefBody
			if err := c.ShouldBindBodyWith(&body, binding.JSON); err == nil {
				source.BodyLobbyID = string(body.LobbyID)
			}
		}

		decision := h.access.ResolveSource(c.Request.Context(), actor, capability, source)
		switch decision.Outcome {
		case access.OutcomeAllow:
			c.Next()
		case access.OutcomeFailure:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authorization_failed"})
		case access.OutcomeUnresolvable:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "access.unresolvable"})
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "access.denied"})
		}
	}
}

func hasBody(c *gin.Context) bool {
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	return c.Request.Body != nil && c.Request.ContentLength != 0
}

// bindJSON decodes the request body; the body may already have been read by requireCapability.
func bindJSON(c *gin.Context, target interface{}) error {
	if err := c.ShouldBindBodyWith(target, binding.JSON); err != nil {
		return apperr.New(apperr.KindValidationFailed, "server.bind", "invalid_body", err)
	}
	return nil
}

func pathID(c *gin.Context, name string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || value <= 0 {
		return 0, apperr.New(apperr.KindValidationFailed, "server.path", "invalid_"+name, errInvalidIdentifier).WithField(name)
	}
	return value, nil
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindAlreadyExists:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindValidationFailed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError translates an error into its status code and a {"error","code","field"} body.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	body := gin.H{"error": string(kind)}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body["code"] = appErr.Code()
		if field := appErr.Field(); field != "" {
			body["field"] = field
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, body)
}
