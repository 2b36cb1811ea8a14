// README: Order lifecycle handlers; thin request/response shells over the
// order service.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mesa/internal/http/middleware"
	"mesa/internal/modules/order"
	"mesa/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type placeOrderReq struct {
	Items []struct {
		ItemID   string `json:"item_id"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
	Address struct {
		Street string   `json:"street"`
		City   string   `json:"city"`
		State  string   `json:"state"`
		Zip    string   `json:"zip"`
		Lat    *float64 `json:"lat,omitempty"`
		Lng    *float64 `json:"lng,omitempty"`
	} `json:"address"`
	PaymentMethod string `json:"payment_method"`
}

func (h *OrderHandler) Place(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := order.PlaceCommand{
		Address: order.Address{
			Street: req.Address.Street,
			City:   req.Address.City,
			State:  req.Address.State,
			Zip:    req.Address.Zip,
		},
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
	}
	if req.Address.Lat != nil && req.Address.Lng != nil {
		cmd.Address.Location = &types.Point{Lat: *req.Address.Lat, Lng: *req.Address.Lng}
	}
	for _, it := range req.Items {
		cmd.Items = append(cmd.Items, order.ItemRequest{ItemID: types.ID(it.ItemID), Quantity: it.Quantity})
	}

	actor := middleware.CallerActor(c)
	o, err := h.order.Place(c.Request.Context(), actor, cmd)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, viewOrder(o, actor))
}

func (h *OrderHandler) Get(c *gin.Context) {
	actor := middleware.CallerActor(c)
	o, err := h.order.Get(c.Request.Context(), actor, types.ID(c.Param("id")))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o, actor))
}

func (h *OrderHandler) List(c *gin.Context) {
	actor := middleware.CallerActor(c)
	orders, err := h.order.ListByUser(c.Request.Context(), actor)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": viewOrders(orders, actor)})
}

func (h *OrderHandler) Accept(c *gin.Context) {
	actor := middleware.CallerActor(c)
	o, err := h.order.Accept(c.Request.Context(), actor, types.ID(c.Param("id")))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o, actor))
}

type assignReq struct {
	PartnerID string `json:"partner_id"`
}

func (h *OrderHandler) Assign(c *gin.Context) {
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || req.PartnerID == "" {
		writeError(c, http.StatusBadRequest, "partner_id required")
		return
	}
	actor := middleware.CallerActor(c)
	o, err := h.order.Assign(c.Request.Context(), actor, order.AssignCommand{
		OrderID:   types.ID(c.Param("id")),
		PartnerID: types.ID(req.PartnerID),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o, actor))
}

func (h *OrderHandler) Start(c *gin.Context) {
	actor := middleware.CallerActor(c)
	o, err := h.order.StartDelivering(c.Request.Context(), actor, types.ID(c.Param("id")))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o, actor))
}

type confirmReq struct {
	OTP string `json:"otp"`
}

func (h *OrderHandler) Confirm(c *gin.Context) {
	var req confirmReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	actor := middleware.CallerActor(c)
	o, err := h.order.ConfirmDelivered(c.Request.Context(), actor, order.ConfirmCommand{
		OrderID: types.ID(c.Param("id")),
		OTP:     req.OTP,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o, actor))
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	actor := middleware.CallerActor(c)
	o, err := h.order.Cancel(c.Request.Context(), actor, types.ID(c.Param("id")))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o, actor))
}

type feedbackReq struct {
	Rating  int    `json:"rating"`
	Tip     int64  `json:"tip"`
	Comment string `json:"comment"`
}

func (h *OrderHandler) Feedback(c *gin.Context) {
	var req feedbackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	actor := middleware.CallerActor(c)
	o, err := h.order.SubmitFeedback(c.Request.Context(), actor, order.FeedbackCommand{
		OrderID: types.ID(c.Param("id")),
		Rating:  req.Rating,
		Tip:     req.Tip,
		Comment: req.Comment,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o, actor))
}

func (h *OrderHandler) LocationHistory(c *gin.Context) {
	actor := middleware.CallerActor(c)
	pts, err := h.order.LocationHistory(c.Request.Context(), actor, types.ID(c.Param("id")))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"locations": pts})
}
