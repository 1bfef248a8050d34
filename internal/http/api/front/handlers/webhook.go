package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/syntaxvpn/vpnpool/internal/provision"
	"github.com/tidwall/gjson"

	log "github.com/sirupsen/logrus"
)

// paymentSucceeded is the only event type that provisions access.
const paymentSucceeded = "payment.succeeded"

const maxWebhookBody = 1 << 20

// Provisioner turns a confirmed payment into a subscription.
type Provisioner interface {
	Provision(ctx context.Context, ev provision.Event) provision.Result
}

// WebhookHandler accepts payment provider notifications.
type WebhookHandler struct {
	provisioner     Provisioner
	subscriptionURL func(identifier string) string
}

// NewWebhookHandler constructs a WebhookHandler. subscriptionURL may be nil.
func NewWebhookHandler(p Provisioner, subscriptionURL func(identifier string) string) *WebhookHandler {
	return &WebhookHandler{provisioner: p, subscriptionURL: subscriptionURL}
}

// Handle parses a notification and provisions the paying user.
// Payloads that can never succeed are acknowledged with 200 so the sender
// stops retrying; transient failures answer 500.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	if !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ev, ok := parsePayment(body)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	result := h.provisioner.Provision(c.Request.Context(), ev)
	fields := log.Fields{
		"event_id":    ev.EventID,
		"telegram_id": ev.TelegramID,
		"plan_id":     ev.PlanID,
		"kind":        result.Kind,
	}
	switch {
	case result.OK():
		body := gin.H{"status": "ok", "kind": result.Kind, "server": result.Server}
		if h.subscriptionURL != nil {
			if url := h.subscriptionURL(result.UUID); url != "" {
				body["subscription_url"] = url
			}
		}
		c.JSON(http.StatusOK, body)
	case result.Kind.Terminal():
		log.WithFields(fields).WithError(result.Err).Warn("webhook: payment not provisioned")
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "kind": result.Kind})
	default:
		log.WithFields(fields).WithError(result.Err).Error("webhook: provisioning failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "kind": result.Kind})
	}
}

// parsePayment extracts a provisioning event from a YooKassa notification.
// Metadata values may arrive as strings or numbers.
func parsePayment(body []byte) (provision.Event, bool) {
	root := gjson.ParseBytes(body)
	if root.Get("event").String() != paymentSucceeded {
		return provision.Event{}, false
	}
	object := root.Get("object")
	meta := object.Get("metadata")
	telegramID := meta.Get("telegram_id").Int()
	planID := strings.TrimSpace(meta.Get("plan_id").String())
	if telegramID <= 0 || planID == "" {
		return provision.Event{}, false
	}
	return provision.Event{
		TelegramID: telegramID,
		PlanID:     planID,
		EventID:    strings.TrimSpace(object.Get("id").String()),
		Username:   strings.TrimSpace(meta.Get("username").String()),
		FullName:   strings.TrimSpace(meta.Get("full_name").String()),
		Payload:    body,
	}, true
}
