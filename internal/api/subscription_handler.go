package api

import (
	"context"
	"net/http"
	"newsletter/internal/dto/req"
	"newsletter/internal/model"
	v1 "newsletter/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

type SubscriptionProvider interface {
	Subscribe(ctx context.Context, name, email string) (*model.Subscription, error)
	Confirm(ctx context.Context, token string) error
}

type SubscriptionHandler struct {
	service SubscriptionProvider
}

func NewSubscriptionHandler(service SubscriptionProvider) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// Subscribe accepts JSON or a url-encoded form.
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	var r req.SubscribeRequest
	if err := c.ShouldBind(&r); err != nil {
		c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: "a name and a valid email are required"})
		return
	}
	sub, err := h.service.Subscribe(c.Request.Context(), r.Name, r.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": sub.Status})
}

func (h *SubscriptionHandler) Confirm(c *gin.Context) {
	var r req.ConfirmRequest
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: "subscription_token is required"})
		return
	}
	if err := h.service.Confirm(c.Request.Context(), r.Token); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}
