package access

import (
	"context"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
)

// LobbyRef identifies the lobby a guarded operation targets.
type LobbyRef struct {
	LobbyID int64
}

// LobbyRefSource carries the raw identifiers a request can name a lobby by.
// Empty strings mean the source is absent.
type LobbyRefSource struct {
	PathLobbyID string
	BodyLobbyID string
	ChallengeID string
}

// ChallengeLookup resolves the lobby that owns a challenge.
type ChallengeLookup interface {
	ChallengeLobbyID(ctx context.Context, challengeID int64) (int64, error)
}

// ResolveLobbyRef applies the resolution chain: path parameter, then body field, then the lobby
// of the named challenge. The first present source decides. ok is false when nothing resolves;
// err is only set for storage failures during the challenge lookup.
func ResolveLobbyRef(ctx context.Context, source LobbyRefSource, lookup ChallengeLookup) (LobbyRef, bool, error) {
	if raw := strings.TrimSpace(source.PathLobbyID); raw != "" {
		id, ok := parseID(raw)
		return LobbyRef{LobbyID: id}, ok, nil
	}
	if raw := strings.TrimSpace(source.BodyLobbyID); raw != "" {
		id, ok := parseID(raw)
		return LobbyRef{LobbyID: id}, ok, nil
	}
	if raw := strings.TrimSpace(source.ChallengeID); raw != "" && lookup != nil {
		challengeID, ok := parseID(raw)
		if !ok {
			return LobbyRef{}, false, nil
		}
		lobbyID, err := lookup.ChallengeLobbyID(ctx, challengeID)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return LobbyRef{}, false, nil
			}
			return LobbyRef{}, false, err
		}
		return LobbyRef{LobbyID: lobbyID}, lobbyID > 0, nil
	}
	return LobbyRef{}, false, nil
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
