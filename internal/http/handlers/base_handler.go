// README: Base handler utilities (JSON helpers, error mapping, response shaping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mesa/internal/modules/order"
	"mesa/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotAuthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrPartnerUnavailable):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrOtpMismatch):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrUnavailable):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// orderView wraps an order, revealing the hand-off code only to the owner and
// to admins. The delivery role never sees it in a response.
type orderView struct {
	*order.Order
	OTP string `json:"otp,omitempty"`
}

func viewOrder(o *order.Order, actor types.Actor) orderView {
	v := orderView{Order: o}
	if actor.Role == types.RoleAdmin || (actor.Role == types.RoleUser && actor.ID == o.UserID) {
		v.OTP = o.OTP
	}
	return v
}

func viewOrders(orders []order.Order, actor types.Actor) []orderView {
	out := make([]orderView, len(orders))
	for i := range orders {
		out[i] = viewOrder(&orders[i], actor)
	}
	return out
}
