package front

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/syntaxvpn/vpnpool/internal/config"
	handlers "github.com/syntaxvpn/vpnpool/internal/http/api/front/handlers"
)

// RegisterFrontRoutes registers the payment webhook and the client
// subscription endpoint.
func RegisterFrontRoutes(r *gin.Engine, httpCfg config.HTTPConfig, p handlers.Provisioner, d handlers.Deliverer, limiter handlers.Limiter) {
	if r == nil {
		return
	}

	if p != nil {
		webhookHandler := handlers.NewWebhookHandler(p, httpCfg.SubscriptionURL)
		r.POST(httpCfg.WebhookPath, webhookHandler.Handle)
	}

	if d != nil {
		subPath := "/" + strings.Trim(httpCfg.SubscriptionPath, "/")
		subscriptionHandler := handlers.NewSubscriptionHandler(d, limiter)
		r.GET(subPath+"/:uuid", subscriptionHandler.Get)
		r.HEAD(subPath+"/:uuid", subscriptionHandler.Get)
	}
}
