package apperr

import "github.com/gin-gonic/gin"

// Body is the uniform failure envelope.
func Body(err error) gin.H {
	return gin.H{"success": false, "message": Message(err)}
}

// Abort stops the gin chain with the status and envelope for err.
func Abort(c *gin.Context, err error) {
	if KindOf(err) == KindInternal {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(Status(KindOf(err)), Body(err))
}
