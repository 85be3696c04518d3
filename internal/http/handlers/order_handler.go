// README: Order lifecycle handlers; thin JSON shells over the order service.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dishpatch/internal/http/middleware"
	"dishpatch/internal/modules/order"
	"dishpatch/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type createOrderReq struct {
	RestaurantID    string  `json:"restaurant_id"`
	DeliveryAddress string  `json:"delivery_address"`
	DropoffLat      float64 `json:"dropoff_lat"`
	DropoffLng      float64 `json:"dropoff_lng"`
	PaymentMethod   string  `json:"payment_method"`
	Discount        float64 `json:"discount"`
	Items           []struct {
		MenuItemID string  `json:"menu_item_id"`
		Name       string  `json:"name"`
		UnitPrice  float64 `json:"unit_price"`
		Quantity   int     `json:"quantity"`
	} `json:"items"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	actor := middleware.ActorFrom(c)
	if actor.Role != order.RoleCustomer || actor.ID == "" {
		writeError(c, http.StatusForbidden, "customer identity required")
		return
	}

	items := make([]order.ItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemInput{
			MenuItemID: types.ID(it.MenuItemID),
			Name:       it.Name,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
		}
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		CustomerID:      actor.ID,
		RestaurantID:    types.ID(req.RestaurantID),
		Items:           items,
		DeliveryAddress: req.DeliveryAddress,
		Dropoff:         types.Point{Lat: req.DropoffLat, Lng: req.DropoffLng},
		PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
		Discount:        req.Discount,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, orderView(o))
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.order.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(o))
}

func (h *OrderHandler) List(c *gin.Context) {
	q := order.Query{
		CustomerID:   types.ID(c.Query("customer_id")),
		RestaurantID: types.ID(c.Query("restaurant_id")),
		DriverID:     types.ID(c.Query("driver_id")),
	}
	for _, st := range c.QueryArray("status") {
		q.Statuses = append(q.Statuses, order.Status(st))
	}
	orders, err := h.order.List(c.Request.Context(), q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	views := make([]gin.H, len(orders))
	for i, o := range orders {
		views[i] = orderView(o)
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

func (h *OrderHandler) Trail(c *gin.Context) {
	trail, err := h.order.Trail(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trail": trail})
}

// transition wraps the simple lifecycle endpoints that differ only in the
// service method invoked.
func (h *OrderHandler) transition(c *gin.Context, fn func(ctx *gin.Context, id types.ID, actor order.Actor) error) {
	id := types.ID(c.Param("id"))
	if err := fn(c, id, middleware.ActorFrom(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": o.ID, "status": o.Status, "substatus": o.Substatus})
}

func (h *OrderHandler) Confirm(c *gin.Context) {
	h.transition(c, func(c *gin.Context, id types.ID, a order.Actor) error {
		return h.order.Confirm(c.Request.Context(), id, a)
	})
}

func (h *OrderHandler) StartPreparing(c *gin.Context) {
	h.transition(c, func(c *gin.Context, id types.ID, a order.Actor) error {
		return h.order.StartPreparing(c.Request.Context(), id, a)
	})
}

func (h *OrderHandler) MarkReady(c *gin.Context) {
	h.transition(c, func(c *gin.Context, id types.ID, a order.Actor) error {
		return h.order.MarkReady(c.Request.Context(), id, a)
	})
}

func (h *OrderHandler) PickUp(c *gin.Context) {
	h.transition(c, func(c *gin.Context, id types.ID, a order.Actor) error {
		return h.order.PickUp(c.Request.Context(), id, a)
	})
}

func (h *OrderHandler) Depart(c *gin.Context) {
	h.transition(c, func(c *gin.Context, id types.ID, a order.Actor) error {
		return h.order.StartDelivery(c.Request.Context(), id, a)
	})
}

func (h *OrderHandler) Deliver(c *gin.Context) {
	h.transition(c, func(c *gin.Context, id types.ID, a order.Actor) error {
		return h.order.Deliver(c.Request.Context(), id, a)
	})
}

func (h *OrderHandler) Complete(c *gin.Context) {
	h.transition(c, func(c *gin.Context, id types.ID, a order.Actor) error {
		return h.order.Complete(c.Request.Context(), id, a)
	})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	var req cancelReq
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "user_cancel"
	}
	h.transition(c, func(c *gin.Context, id types.ID, a order.Actor) error {
		return h.order.Cancel(c.Request.Context(), order.CancelCommand{
			OrderID: id,
			Actor:   a,
			Reason:  req.Reason,
		})
	})
}

type rateReq struct {
	Rating int `json:"rating"`
}

func (h *OrderHandler) Rate(c *gin.Context) {
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.order.Rate(c.Request.Context(), order.RateCommand{
		OrderID: types.ID(c.Param("id")),
		Actor:   middleware.ActorFrom(c),
		Rating:  req.Rating,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rating": req.Rating})
}

func orderView(o *order.Order) gin.H {
	v := gin.H{
		"order_id":         o.ID,
		"number":           o.Number,
		"customer_id":      o.CustomerID,
		"restaurant_id":    o.RestaurantID,
		"status":           o.Status,
		"substatus":        o.Substatus,
		"items":            o.Items,
		"delivery_address": o.DeliveryAddress,
		"dropoff":          o.Dropoff,
		"pricing":           o.Pricing,
		"pricing_finalized": o.PricingFinalized,
		"payment_method":   o.PaymentMethod,
		"payment_status":   o.PaymentStatus,
		"created_at":       o.CreatedAt,
	}
	if o.DriverID != nil {
		v["driver_id"] = *o.DriverID
	}
	if o.Rating != nil {
		v["rating"] = *o.Rating
	}
	if o.CancelledBy != nil {
		v["cancelled_by"] = *o.CancelledBy
	}
	if o.CancelReason != nil {
		v["cancel_reason"] = *o.CancelReason
	}
	stamps := gin.H{}
	addStamp(stamps, "confirmed_at", o.ConfirmedAt)
	addStamp(stamps, "preparing_at", o.PreparingAt)
	addStamp(stamps, "ready_at", o.ReadyAt)
	addStamp(stamps, "assigned_at", o.AssignedAt)
	addStamp(stamps, "picked_up_at", o.PickedUpAt)
	addStamp(stamps, "delivered_at", o.DeliveredAt)
	addStamp(stamps, "completed_at", o.CompletedAt)
	addStamp(stamps, "cancelled_at", o.CancelledAt)
	if len(stamps) > 0 {
		v["timestamps"] = stamps
	}
	return v
}

func addStamp(m gin.H, key string, t *time.Time) {
	if t != nil {
		m[key] = *t
	}
}
