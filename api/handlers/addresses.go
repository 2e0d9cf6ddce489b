package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
)

type AddAddressRequest struct {
	LocalPart   string `json:"localPart" binding:"required"`
	MailboxID   string `json:"mailboxId" binding:"required"`
	Description string `json:"description"`
}

type UpdateAddressRequest struct {
	Enabled     bool   `json:"enabled"`
	MailboxID   string `json:"mailboxId"`
	Description string `json:"description"`
}

type AddressesHandler struct {
	registry interfaces.DomainRegistry
}

func NewAddressesHandler(registry interfaces.DomainRegistry) *AddressesHandler {
	return &AddressesHandler{registry: registry}
}

// AddAddress creates a new address on a domain
func (h *AddressesHandler) AddAddress() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AddAddress")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		var req AddAddressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		address, err := h.registry.AddAddress(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain"), req.LocalPart, req.MailboxID, req.Description)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"address": address})
	}
}

// ListAddresses returns all addresses on a domain
func (h *AddressesHandler) ListAddresses() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "ListAddresses")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		addresses, err := h.registry.ListAddresses(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain"))
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"addresses": addresses})
	}
}

// UpdateAddress changes the enabled flag, mailbox or description of an address
func (h *AddressesHandler) UpdateAddress() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "UpdateAddress")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))
		tracing.TagEntity(span, c.Param("id"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		var req UpdateAddressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		address, err := h.registry.UpdateAddress(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain"), c.Param("id"), req.Enabled, req.MailboxID, req.Description)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"address": address})
	}
}

// RemoveAddress deletes an address from a domain
func (h *AddressesHandler) RemoveAddress() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "RemoveAddress")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		tracing.TagDomain(span, c.Param("domain"))
		tracing.TagEntity(span, c.Param("id"))

		if err := utils.ValidateUserId(ctx); err != nil {
			respondError(c, span, err)
			return
		}

		if err := h.registry.RemoveAddress(ctx, utils.GetUserIdFromContext(ctx), c.Param("domain"), c.Param("id")); err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}
