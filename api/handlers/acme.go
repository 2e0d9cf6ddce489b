package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/tracing"
)

type AcmeHandler struct {
	registry interfaces.DomainRegistry
}

func NewAcmeHandler(registry interfaces.DomainRegistry) *AcmeHandler {
	return &AcmeHandler{registry: registry}
}

// ServeChallenge answers HTTP-01 validation requests from the CA. The
// endpoint is unauthenticated and returns the key authorization as plain
// text, which is what the validator expects.
func (h *AcmeHandler) ServeChallenge() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ServeChallenge")
		defer span.Finish()
		tracing.TagComponentRest(span)

		response, err := h.registry.ChallengeResponse(ctx, c.Param("token"))
		if err != nil {
			tracing.TraceErr(span, err)
			c.String(http.StatusNotFound, "not found")
			return
		}

		c.String(http.StatusOK, response)
	}
}
