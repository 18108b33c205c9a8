package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/caseroute/backend/internal/models"
)

const (
	ActorIDHeader          = "X-Actor-Id"
	ActorKindHeader        = "X-Actor-Kind"
	ActorPermissionsHeader = "X-Actor-Permissions"

	actorKey = "actor"
)

// Actor reads the caller identity set by the upstream gateway. Requests
// without one are rejected; the system identity is never accepted from
// outside.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(ActorIDHeader))
		kind := models.ActorKind(strings.ToLower(strings.TrimSpace(c.GetHeader(ActorKindHeader))))
		if id == "" || (kind != models.ActorExporter && kind != models.ActorCaseworker) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "X-Actor-Id and X-Actor-Kind (exporter or caseworker) are required",
				},
			})
			return
		}

		var perms []string
		for _, p := range strings.Split(c.GetHeader(ActorPermissionsHeader), ",") {
			if p = strings.TrimSpace(p); p != "" {
				perms = append(perms, p)
			}
		}
		c.Set(actorKey, models.Actor{ID: id, Kind: kind, Permissions: perms})
		c.Next()
	}
}

func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	a, ok := v.(models.Actor)
	return a, ok
}
