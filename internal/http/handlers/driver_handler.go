// README: Driver registry and dispatch-acceptance handlers.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dishpatch/internal/http/middleware"
	"dishpatch/internal/modules/dispatch"
	"dishpatch/internal/modules/driver"
	"dishpatch/internal/modules/order"
	"dishpatch/internal/types"
)

type DriverHandler struct {
	drivers  *driver.Service
	dispatch *dispatch.Service
}

func NewDriverHandler(drivers *driver.Service, dispatch *dispatch.Service) *DriverHandler {
	return &DriverHandler{drivers: drivers, dispatch: dispatch}
}

type registerDriverReq struct {
	DriverID string `json:"driver_id"`
}

func (h *DriverHandler) Register(c *gin.Context) {
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return
	}
	if err := h.drivers.Register(c.Request.Context(), types.ID(req.DriverID)); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"driver_id": req.DriverID, "status": driver.StatusOffline})
}

func (h *DriverHandler) Get(c *gin.Context) {
	d, err := h.drivers.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, driverView(d))
}

type availabilityReq struct {
	Status string `json:"status"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	id := types.ID(c.Param("id"))
	if !driverSelf(c, id) {
		writeError(c, http.StatusForbidden, "driver identity required")
		return
	}
	if err := h.drivers.SetAvailability(c.Request.Context(), id, driver.Availability(req.Status)); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": id, "status": req.Status})
}

type locationReq struct {
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// UpdateLocation feeds one position sample. Out-of-order samples are
// acknowledged but not applied.
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	id := types.ID(c.Param("id"))
	if !driverSelf(c, id) {
		writeError(c, http.StatusForbidden, "driver identity required")
		return
	}
	ts := time.Now()
	if req.RecordedAt != nil {
		ts = *req.RecordedAt
	}
	applied, err := h.drivers.UpdatePosition(c.Request.Context(), id, types.Point{Lat: req.Lat, Lng: req.Lng}, ts)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

// Accept lets a driver take a ready order directly, through the same
// conditional reserve-then-assign path the matcher uses.
func (h *DriverHandler) Accept(c *gin.Context) {
	orderID := types.ID(c.Param("id"))
	actor := middleware.ActorFrom(c)
	if actor.Role != order.RoleDriver || actor.ID == "" {
		writeError(c, http.StatusForbidden, "driver identity required")
		return
	}
	if err := h.dispatch.Accept(c.Request.Context(), orderID, actor.ID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "driver_id": actor.ID, "status": order.StatusDriverAssigned})
}

func (h *DriverHandler) Deactivate(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if err := h.drivers.Deactivate(c.Request.Context(), id); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": id, "active": false})
}

func driverSelf(c *gin.Context, id types.ID) bool {
	actor := middleware.ActorFrom(c)
	if actor.Role == order.RoleAdmin {
		return true
	}
	return actor.Role == order.RoleDriver && actor.ID == id
}

func driverView(d *driver.Driver) gin.H {
	v := gin.H{
		"driver_id":            d.ID,
		"status":               d.Status,
		"active":               d.Active,
		"completed_deliveries": d.CompletedDeliveries,
		"total_earnings":       d.TotalEarnings,
		"rating":               d.Rating(),
	}
	if d.Position != nil {
		v["position"] = *d.Position
	}
	if d.PositionUpdatedAt != nil {
		v["position_updated_at"] = *d.PositionUpdatedAt
	}
	if d.CurrentDelivery != nil {
		v["current_delivery"] = *d.CurrentDelivery
	}
	return v
}
