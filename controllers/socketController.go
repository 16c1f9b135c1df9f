package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"go-restaurant-orderhub/hub"
	"go-restaurant-orderhub/metrics"
	"go-restaurant-orderhub/middleware"
	"go-restaurant-orderhub/models"
	"go-restaurant-orderhub/services"
)

const (
	maxMessageSize = 64 << 10
	pongWait       = 60 * time.Second
)

type SocketOptions struct {
	QueueSize      int
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// SocketController runs one websocket connection per viewer. Each
// connection reads its own inbound messages; everything it is sent goes
// through the hub.
type SocketController struct {
	orders     *services.OrderService
	dispatcher *hub.Dispatcher
	registry   *hub.Registry
	metrics    *metrics.Metrics
	opts       SocketOptions
	upgrader   websocket.Upgrader
}

func NewSocketController(orders *services.OrderService, d *hub.Dispatcher, reg *hub.Registry, m *metrics.Metrics, opts SocketOptions) *SocketController {
	sc := &SocketController{orders: orders, dispatcher: d, registry: reg, metrics: m, opts: opts}
	sc.upgrader = websocket.Upgrader{CheckOrigin: sc.checkOrigin}
	return sc
}

func (sc *SocketController) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range sc.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request. The admin role comes from the
// token checked by OptionalAuthentication. A "branch" or "orderId" query
// parameter subscribes the connection straight away.
func (sc *SocketController) HandleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := sc.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		client := hub.NewClient(uuid.NewString(), middleware.IsAdmin(c), conn, sc.opts.QueueSize, sc.opts.WriteTimeout)
		logger := log.WithFields(log.Fields{"client_id": client.ID, "role": client.Role()})

		sc.registry.Register(client)
		sc.metrics.ConnectionOpened(client.Role())
		logger.Info("viewer connected")
		defer func() {
			client.Close()
			sc.registry.Unregister(client.ID)
			sc.metrics.ConnectionClosed(client.Role())
			logger.Info("viewer disconnected")
		}()

		go client.WritePump()

		if branch, orderID := c.Query("branch"), c.Query("orderId"); branch != "" || orderID != "" {
			sc.subscribe(client, models.SubscribeRequest{Branch: branch, OrderID: orderID})
		}
		sc.readPump(client, conn, logger)
	}
}

func (sc *SocketController) readPump(client *hub.Client, conn *websocket.Conn, logger *log.Entry) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Info("read failed")
			}
			return
		}
		var msg models.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sc.replyError(client, models.NewValidationError("message is not valid JSON"), "")
			continue
		}
		sc.handle(client, msg)
	}
}

func (sc *SocketController) handle(client *hub.Client, msg models.InboundMessage) {
	switch msg.Event {
	case models.EventSubmitOrder:
		var req models.OrderRequest
		if !sc.decode(client, msg.Payload, &req) {
			return
		}
		order, err := sc.orders.Submit(context.Background(), req)
		if err != nil {
			sc.replyError(client, err, "")
			return
		}
		sc.dispatcher.Reply(client, models.EventOrderCreatedAck, models.OrderRef{OrderID: order.ID})

	case models.EventRequestTransition:
		var req models.TransitionRequest
		if !sc.requireAdmin(client) || !sc.decode(client, msg.Payload, &req) {
			return
		}
		if _, err := sc.orders.Transition(context.Background(), req.OrderID, req.Transition); err != nil {
			sc.replyError(client, err, req.OrderID)
			return
		}
		// The acknowledgement is the order's current state.
		if err := sc.dispatcher.SendOrderState(context.Background(), client, req.OrderID); err != nil {
			log.WithError(err).WithField("order_id", req.OrderID).Debug("order gone before acknowledgement")
		}

	case models.EventSubscribe:
		var req models.SubscribeRequest
		if !sc.decode(client, msg.Payload, &req) {
			return
		}
		sc.subscribe(client, req)

	case models.EventRequestSnapshot:
		var req models.OrderRef
		if !sc.decode(client, msg.Payload, &req) {
			return
		}
		if err := sc.dispatcher.SendOrderState(context.Background(), client, req.OrderID); err != nil {
			sc.replyError(client, err, req.OrderID)
		}

	case models.EventDiscardOrder:
		var req models.OrderRef
		if !sc.requireAdmin(client) || !sc.decode(client, msg.Payload, &req) {
			return
		}
		if _, err := sc.orders.Discard(context.Background(), req.OrderID); err != nil {
			sc.replyError(client, err, req.OrderID)
			return
		}
		sc.dispatcher.Reply(client, models.EventOrderDiscardedNotice, req)

	default:
		sc.replyError(client, models.NewValidationError("unknown event "+msg.Event), "")
	}
}

func (sc *SocketController) subscribe(client *hub.Client, req models.SubscribeRequest) {
	switch {
	case (req.Branch == "") == (req.OrderID == ""):
		sc.replyError(client, models.NewValidationError("subscribe needs exactly one of branch or orderId"), "")
	case req.Branch != "":
		if !sc.requireAdmin(client) {
			return
		}
		if err := sc.dispatcher.Attach(context.Background(), client, hub.BranchScope(req.Branch)); err != nil {
			sc.replyError(client, err, "")
		}
	default:
		if err := sc.dispatcher.Attach(context.Background(), client, hub.OrderScope(req.OrderID)); err != nil {
			sc.replyError(client, err, req.OrderID)
		}
	}
}

func (sc *SocketController) requireAdmin(client *hub.Client) bool {
	if client.Admin {
		return true
	}
	sc.replyError(client, models.ErrForbidden, "")
	return false
}

// decode unmarshals and validates an inbound payload, replying with a
// validation error when it is unusable.
func (sc *SocketController) decode(client *hub.Client, raw json.RawMessage, v interface{}) bool {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		sc.replyError(client, models.NewValidationError("payload: "+err.Error()), "")
		return false
	}
	// Order requests are validated by the service with field-level messages.
	if _, ok := v.(*models.OrderRequest); ok {
		return true
	}
	if err := validate.Struct(v); err != nil {
		sc.replyError(client, models.NewValidationError(err.Error()), "")
		return false
	}
	return true
}

// replyError answers only the requesting connection.
func (sc *SocketController) replyError(client *hub.Client, err error, orderID string) {
	status, code := errorCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("client_id", client.ID).Error("websocket request failed")
		message = "internal error"
	}
	sc.dispatcher.Reply(client, models.EventError, models.ErrorPayload{Code: code, Message: message, OrderID: orderID})
}
