package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
)

type RegisterDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

type SetCatchAllRequest struct {
	Enabled   bool   `json:"enabled"`
	MailboxID string `json:"mailboxId"`
}

type DomainsHandler struct {
	registry interfaces.DomainRegistry
}

func NewDomainsHandler(registry interfaces.DomainRegistry) *DomainsHandler {
	return &DomainsHandler{registry: registry}
}

// RegisterDomain registers a new custom domain for the acting user
func (h *DomainsHandler) RegisterDomain() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RegisterDomain")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		var req RegisterDomainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		domain, err := h.registry.Add(ctx, utils.GetUserIdFromContext(ctx), req.Domain)
		if err != nil {
			respondError(c, span, err)
			return
		}

		records, err := h.registry.ExpectedRecords(ctx, utils.GetUserIdFromContext(ctx), domain.Domain)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"domain":          domain,
			"expectedRecords": records,
		})
	}
}

// ListDomains returns all domains registered by the acting user
func (h *DomainsHandler) ListDomains() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ListDomains")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		domains, err := h.registry.List(ctx, utils.GetUserIdFromContext(ctx))
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"domains": domains})
	}
}

// GetDomain returns a single domain owned by the acting user
func (h *DomainsHandler) GetDomain() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "GetDomain")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		domain, err := h.registry.Get(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain"))
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"domain": domain})
	}
}

// DeleteDomain removes a domain, its addresses and its cached certificate
func (h *DomainsHandler) DeleteDomain() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "DeleteDomain")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		if err := h.registry.Delete(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain")); err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// VerifyDomain runs the ownership TXT check and reports the outcome
func (h *DomainsHandler) VerifyDomain() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "VerifyDomain")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		result, err := h.registry.Verify(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain"))
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"result": result})
	}
}

// ProvisionSSL starts asynchronous certificate provisioning for a verified domain
func (h *DomainsHandler) ProvisionSSL() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ProvisionSSL")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		if err := h.registry.ProvisionSSL(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain")); err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"provisioning": true})
	}
}

// DNSRecords returns the records the domain owner must create
func (h *DomainsHandler) DNSRecords() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "DNSRecords")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		records, err := h.registry.ExpectedRecords(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain"))
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"expectedRecords": records})
	}
}

// RefreshEmailDNS rechecks MX/SPF/DKIM/DMARC against live DNS
func (h *DomainsHandler) RefreshEmailDNS() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RefreshEmailDNS")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		// Ownership check first; RefreshEmailDNS itself is user-agnostic
		// because the cron recheck also calls it.
		if _, err := h.registry.Get(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain")); err != nil {
			respondError(c, span, err)
			return
		}

		result, err := h.registry.RefreshEmailDNS(ctx, c.Param("domain"))
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"result": result})
	}
}

// EnableEmail turns on email for a domain, generating DKIM keys on first use
func (h *DomainsHandler) EnableEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "EnableEmail")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		domain, err := h.registry.EnableEmail(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain"))
		if err != nil {
			respondError(c, span, err)
			return
		}

		records, err := h.registry.ExpectedRecords(ctx, utils.GetUserIdFromContext(ctx), domain.Domain)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"domain":          domain,
			"expectedRecords": records,
		})
	}
}

// DisableEmail turns off email routing for a domain, keeping DKIM keys
func (h *DomainsHandler) DisableEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "DisableEmail")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		if err := h.registry.DisableEmail(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain")); err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"emailEnabled": false})
	}
}

// SetCatchAll configures the catch-all mailbox for a domain
func (h *DomainsHandler) SetCatchAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "SetCatchAll")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		var req SetCatchAllRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err := h.registry.SetCatchAll(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain"), req.Enabled, req.MailboxID)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"catchAllEnabled": req.Enabled})
	}
}
