package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/packfinderz-stock/api/responses"
	"github.com/angelmondragon/packfinderz-stock/internal/movements"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
)

const (
	ActorTypeHeader = "X-Actor-Type"
	ActorIDHeader   = "X-Actor-Id"
	maxActorIDLen   = 128
)

// Actor reads the caller identity from the gateway headers. The system actor
// belongs to background jobs and cannot be claimed over HTTP.
func Actor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := movements.Actor{}
			if raw := strings.TrimSpace(r.Header.Get(ActorTypeHeader)); raw != "" {
				actorType, err := enums.ParseActorType(raw)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor type"))
					return
				}
				if actorType == enums.ActorSystem {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "system actor is reserved"))
					return
				}
				actor.Type = actorType
			}
			actor.ID = strings.TrimSpace(r.Header.Get(ActorIDHeader))
			if len(actor.ID) > maxActorIDLen {
				actor.ID = actor.ID[:maxActorIDLen]
			}
			actor = actor.Normalize()

			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"actor_type": actor.Type,
					"actor_id":   actor.ID,
				})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
