package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/agenthub/aicp/internal/apierrors"
)

// authState fetches the AuthState attached by AuthResolution.
func authState(c *gin.Context) *AuthState {
	v, ok := c.Get(authStateKey)
	if !ok {
		return &AuthState{}
	}
	state, _ := v.(*AuthState)
	if state == nil {
		return &AuthState{}
	}
	return state
}

// bindJSON decodes the request body or writes the stable error envelope
// and reports failure to the caller.
func bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		status, envelope := apierrors.ToEnvelope(apierrors.Wrap(apierrors.InvalidArgument, "malformed request body", err))
		c.AbortWithStatusJSON(status, envelope)
		return false
	}
	return true
}

// respondErr writes the stable envelope for err and aborts the chain.
func respondErr(c *gin.Context, err error) {
	status, envelope := apierrors.ToEnvelope(err)
	c.AbortWithStatusJSON(status, envelope)
}
