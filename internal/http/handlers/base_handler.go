// README: Shared handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dishpatch/internal/modules/dispatch"
	"dishpatch/internal/modules/driver"
	"dishpatch/internal/modules/order"
	"dishpatch/internal/modules/payment"
	"dishpatch/internal/modules/restaurant"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, driver.ErrBadStatus):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, driver.ErrNotFound),
		errors.Is(err, restaurant.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, payment.ErrDeclined):
		writeError(c, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, driver.ErrNotReservable),
		errors.Is(err, driver.ErrActiveDelivery),
		errors.Is(err, driver.ErrUnavailable),
		errors.Is(err, dispatch.ErrOrderTaken),
		errors.Is(err, dispatch.ErrRestaurantClosed),
		errors.Is(err, dispatch.ErrNoDriverAvailable):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
