package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/tracing"
)

// respondError maps service sentinel errors to HTTP status codes. Anything
// unmapped is a 500 with a generic body so internals never leak.
func respondError(c *gin.Context, span opentracing.Span, err error) {
	tracing.TraceErr(span, err)

	switch {
	case errors.Is(err, er.ErrUserIdMissing):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, er.ErrDomainNotFound),
		errors.Is(err, er.ErrAddressNotFound),
		errors.Is(err, er.ErrChallengeNotFound),
		errors.Is(err, er.ErrCertificateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, er.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, er.ErrDomainExists),
		errors.Is(err, er.ErrAddressExists),
		errors.Is(err, er.ErrProvisioningInFlight),
		errors.Is(err, er.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, er.ErrDomainLimitReached):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, er.ErrInvalidDomainName),
		errors.Is(err, er.ErrInvalidEmailAddress),
		errors.Is(err, er.ErrMailboxRequired),
		errors.Is(err, er.ErrEmailNotEnabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
