package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/syntaxvpn/vpnpool/internal/connlink"
	"github.com/syntaxvpn/vpnpool/internal/delivery"
	"github.com/syntaxvpn/vpnpool/internal/ratelimit"

	log "github.com/sirupsen/logrus"
)

// Deliverer resolves an identifier to client connection material.
type Deliverer interface {
	Deliver(ctx context.Context, identifier string) (delivery.Bundle, error)
}

// Limiter throttles requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

// SubscriptionHandler serves subscription documents to VPN clients.
type SubscriptionHandler struct {
	deliverer Deliverer
	limiter   Limiter
}

// NewSubscriptionHandler constructs a SubscriptionHandler. limiter may be nil.
func NewSubscriptionHandler(d Deliverer, limiter Limiter) *SubscriptionHandler {
	return &SubscriptionHandler{deliverer: d, limiter: limiter}
}

// Get returns the base64 link bundle for the :uuid path parameter.
func (h *SubscriptionHandler) Get(c *gin.Context) {
	identifier := strings.TrimSpace(c.Param("uuid"))
	if identifier == "" {
		c.String(http.StatusNotFound, "Not found")
		return
	}

	if !h.allow(c, ratelimit.KeyForAddr(c.ClientIP())) || !h.allow(c, ratelimit.KeyForIdentifier(identifier)) {
		return
	}

	bundle, errDeliver := h.deliverer.Deliver(c.Request.Context(), identifier)
	switch {
	case errors.Is(errDeliver, delivery.ErrNotFound):
		c.String(http.StatusNotFound, "Not found")
		return
	case errors.Is(errDeliver, delivery.ErrExpired):
		c.String(http.StatusForbidden, "Subscription expired")
		return
	case errDeliver != nil:
		log.WithError(errDeliver).WithField("uuid", identifier).Error("subscription: deliver failed")
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}

	c.Header("Subscription-Userinfo", bundle.UserInfo())
	c.Header("Content-Disposition", "inline")
	c.Header("Profile-Update-Interval", "24")
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(connlink.Encode(bundle.Links)))
}

// allow consumes one request from key and answers 429 when the window is
// spent. Limiter errors let the request through.
func (h *SubscriptionHandler) allow(c *gin.Context, key string) bool {
	if h.limiter == nil || key == "" {
		return true
	}
	result, errLimit := h.limiter.Allow(c.Request.Context(), key)
	if errLimit != nil {
		log.WithError(errLimit).WithField("key", key).Warn("subscription: rate limit check failed")
		return true
	}
	if result.Allowed {
		return true
	}
	if retry := time.Until(result.Reset); retry > 0 {
		c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
	}
	c.String(http.StatusTooManyRequests, "Too many requests")
	return false
}
