package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"go-restaurant-orderhub/models"
	"go-restaurant-orderhub/services"
)

const requestTimeout = 10 * time.Second

type OrderController struct {
	orders *services.OrderService
}

func NewOrderController(orders *services.OrderService) *OrderController {
	return &OrderController{orders: orders}
}

// CreateOrder is the HTTP form of submit_order.
func (oc *OrderController) CreateOrder() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		var req models.OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewValidationError("body: "+err.Error()))
			return
		}
		order, err := oc.orders.Submit(ctx, req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	}
}

// GetOrder looks in both tables; anyone holding the id may read it.
func (oc *OrderController) GetOrder() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		order, loc, err := oc.orders.Get(ctx, c.Param("order_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.OrderStatePayload{Order: order, Archived: loc == models.LocationArchive})
	}
}

func (oc *OrderController) GetActiveOrders() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		branch := c.Query("branch")
		if branch == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "branch is required"})
			return
		}
		orders, err := oc.orders.Active(ctx, branch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.ActiveOrdersPayload{Branch: branch, Orders: orders})
	}
}

func (oc *OrderController) GetArchivedOrders() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		orders, err := oc.orders.Archive(ctx, c.Query("branch"), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, orders)
	}
}

// UpdateOrder is the HTTP form of request_transition.
func (oc *OrderController) UpdateOrder() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		var body struct {
			Transition string `json:"transition" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "transition is required"})
			return
		}
		order, err := oc.orders.Transition(ctx, c.Param("order_id"), body.Transition)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

// DiscardOrder is the HTTP form of discard_order.
func (oc *OrderController) DiscardOrder() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		order, err := oc.orders.Discard(ctx, c.Param("order_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

// errorCode maps a service error onto an HTTP status and the code sent
// in websocket error payloads.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, models.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition"
	case errors.Is(err, models.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := errorCode(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"code": code, "error": "internal error"})
		return
	}
	body := gin.H{"code": code, "error": err.Error()}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		body["problems"] = verr.Problems
	}
	c.JSON(status, body)
}
