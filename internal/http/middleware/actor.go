// README: Actor identity middleware; trusts upstream-gateway headers.
package middleware

import (
	"github.com/gin-gonic/gin"

	"dishpatch/internal/modules/order"
	"dishpatch/internal/types"
)

const actorKey = "actor"

// Actor reads the caller identity placed by the upstream gateway in
// X-Actor-ID / X-Actor-Role. Authentication itself happens before this
// service; here the headers are taken at face value.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(actorKey, order.Actor{
			ID:   types.ID(c.GetHeader("X-Actor-ID")),
			Role: order.Role(c.GetHeader("X-Actor-Role")),
		})
		c.Next()
	}
}

// ActorFrom returns the actor attached by the Actor middleware.
func ActorFrom(c *gin.Context) order.Actor {
	v, ok := c.Get(actorKey)
	if !ok {
		return order.Actor{}
	}
	return v.(order.Actor)
}
