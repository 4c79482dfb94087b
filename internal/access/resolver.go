// Package access decides whether an actor may act on a lobby.
package access

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/auth"
	"go.uber.org/zap"
)

// Capability is the tier an operation requires.
type Capability int

const (
	// CapabilityPrivileged admits privileged and fully privileged roles without a lobby.
	CapabilityPrivileged Capability = iota
	// CapabilityFullyPrivileged admits fully privileged roles only.
	CapabilityFullyPrivileged
	// CapabilityCreator admits the lobby creator or a fully privileged role.
	CapabilityCreator
	// CapabilityMember admits members, the creator, privileged roles on public lobbies,
	// and fully privileged roles.
	CapabilityMember
)

func (c Capability) String() string {
	switch c {
	case CapabilityPrivileged:
		return "privileged"
	case CapabilityFullyPrivileged:
		return "fully_privileged"
	case CapabilityCreator:
		return "creator"
	case CapabilityMember:
		return "member"
	default:
		return "unknown"
	}
}

// Outcome is the result of an authorization decision.
type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeDeny
	// OutcomeUnresolvable means the target lobby could not be determined.
	OutcomeUnresolvable
	// OutcomeFailure means a storage error prevented a decision; it never allows.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeDeny:
		return "deny"
	case OutcomeUnresolvable:
		return "unresolvable"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Decision is the verdict for one request.
type Decision struct {
	Outcome Outcome
	Err     error
}

// Allowed reports whether the decision permits the operation.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// Directory answers the lobby facts the resolver needs.
type Directory interface {
	ChallengeLookup
	LobbyCreatorID(ctx context.Context, lobbyID int64) (string, error)
	IsLobbyPublic(ctx context.Context, lobbyID int64) (bool, error)
	IsMember(ctx context.Context, userID string, lobbyID int64) (bool, error)
}

// ResolverConfig configures role tiers.
type ResolverConfig struct {
	Directory            Directory
	PrivilegedRoles      []string
	FullyPrivilegedRoles []string
	Logger               *zap.Logger
}

// Resolver evaluates capabilities for actors.
type Resolver struct {
	directory       Directory
	privileged      map[string]struct{}
	fullyPrivileged map[string]struct{}
	logger          *zap.Logger
}

var errMissingDirectory = errors.New("access: lobby directory is required")

const opResolve = "access.resolve"

// NewResolver builds a Resolver. Fully privileged roles are implicitly privileged.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := &Resolver{
		directory:       cfg.Directory,
		privileged:      roleSet(cfg.PrivilegedRoles),
		fullyPrivileged: roleSet(cfg.FullyPrivilegedRoles),
		logger:          logger,
	}
	for role := range resolver.fullyPrivileged {
		resolver.privileged[role] = struct{}{}
	}
	return resolver, nil
}

// IsFullyPrivileged reports whether the actor's role passes every check.
func (r *Resolver) IsFullyPrivileged(actor auth.Actor) bool {
	_, ok := r.fullyPrivileged[normalizeRole(actor.Role)]
	return ok
}

// IsPrivileged reports whether the actor holds an elevated role.
func (r *Resolver) IsPrivileged(actor auth.Actor) bool {
	_, ok := r.privileged[normalizeRole(actor.Role)]
	return ok
}

// Resolve decides capability for actor on ref. A nil ref marks an unresolved lobby reference.
func (r *Resolver) Resolve(ctx context.Context, actor auth.Actor, capability Capability, ref *LobbyRef) Decision {
	if strings.TrimSpace(actor.ID) == "" {
		return Decision{Outcome: OutcomeDeny}
	}
	if r.IsFullyPrivileged(actor) {
		return Decision{Outcome: OutcomeAllow}
	}

	switch capability {
	case CapabilityPrivileged:
		return boolDecision(r.IsPrivileged(actor))
	case CapabilityFullyPrivileged:
		return Decision{Outcome: OutcomeDeny}
	}

	if ref == nil || ref.LobbyID <= 0 {
		return Decision{Outcome: OutcomeUnresolvable}
	}

	switch capability {
	case CapabilityCreator:
		creatorID, err := r.directory.LobbyCreatorID(ctx, ref.LobbyID)
		if err != nil {
			return r.lookupFailure(capability, ref, err)
		}
		return boolDecision(creatorID == actor.ID)
	case CapabilityMember:
		isMember, err := r.directory.IsMember(ctx, actor.ID, ref.LobbyID)
		if err != nil {
			return r.lookupFailure(capability, ref, err)
		}
		if isMember {
			return Decision{Outcome: OutcomeAllow}
		}
		if !r.IsPrivileged(actor) {
			return Decision{Outcome: OutcomeDeny}
		}
		public, err := r.directory.IsLobbyPublic(ctx, ref.LobbyID)
		if err != nil {
			return r.lookupFailure(capability, ref, err)
		}
		return boolDecision(public)
	default:
		return Decision{Outcome: OutcomeDeny}
	}
}

// ResolveSource runs the lobby reference chain and then Resolve.
func (r *Resolver) ResolveSource(ctx context.Context, actor auth.Actor, capability Capability, source LobbyRefSource) Decision {
	if r.IsFullyPrivileged(actor) && strings.TrimSpace(actor.ID) != "" {
		return Decision{Outcome: OutcomeAllow}
	}
	if capability == CapabilityPrivileged || capability == CapabilityFullyPrivileged {
		return r.Resolve(ctx, actor, capability, nil)
	}
	ref, ok, err := ResolveLobbyRef(ctx, source, r.directory)
	if err != nil {
		return r.lookupFailure(capability, nil, err)
	}
	if !ok {
		return Decision{Outcome: OutcomeUnresolvable}
	}
	return r.Resolve(ctx, actor, capability, &ref)
}

func (r *Resolver) lookupFailure(capability Capability, ref *LobbyRef, err error) Decision {
	// A lobby that vanished between resolution and lookup is a plain denial.
	if apperr.Is(err, apperr.KindNotFound) {
		return Decision{Outcome: OutcomeDeny}
	}
	fields := []zap.Field{
		zap.String("operation", opResolve),
		zap.String("reason", "lookup_failed"),
		zap.String("capability", capability.String()),
		zap.Error(err),
	}
	if ref != nil {
		fields = append(fields, zap.Int64("lobby_id", ref.LobbyID))
	}
	r.logger.Error("authorization lookup failed", fields...)
	return Decision{Outcome: OutcomeFailure, Err: err}
}

func boolDecision(allowed bool) Decision {
	if allowed {
		return Decision{Outcome: OutcomeAllow}
	}
	return Decision{Outcome: OutcomeDeny}
}

func roleSet(roles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := normalizeRole(role); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
