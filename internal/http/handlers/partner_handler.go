// README: Partner directory handlers for the admin back-office.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mesa/internal/http/middleware"
	"mesa/internal/modules/assignment"
	"mesa/internal/modules/partner"
	"mesa/internal/types"
)

type PartnerHandler struct {
	assignment *assignment.Service
	partners   partner.Directory
}

func NewPartnerHandler(assignmentSvc *assignment.Service, partners partner.Directory) *PartnerHandler {
	return &PartnerHandler{assignment: assignmentSvc, partners: partners}
}

// Eligible lists active+available partners, nearest first when ?lat=&lng= is
// given.
func (h *PartnerHandler) Eligible(c *gin.Context) {
	if middleware.CallerRole(c) != string(types.RoleAdmin) {
		writeError(c, http.StatusForbidden, "admin capability required")
		return
	}
	var origin *types.Point
	latStr, lngStr := c.Query("lat"), c.Query("lng")
	if latStr != "" && lngStr != "" {
		lat, err1 := strconv.ParseFloat(latStr, 64)
		lng, err2 := strconv.ParseFloat(lngStr, 64)
		if err1 != nil || err2 != nil {
			writeError(c, http.StatusBadRequest, "invalid coordinates")
			return
		}
		origin = &types.Point{Lat: lat, Lng: lng}
	}
	candidates, err := h.assignment.FindEligible(c.Request.Context(), origin)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"partners": candidates})
}

func (h *PartnerHandler) Get(c *gin.Context) {
	if middleware.CallerRole(c) != string(types.RoleAdmin) {
		writeError(c, http.StatusForbidden, "admin capability required")
		return
	}
	p, err := h.partners.Get(c.Request.Context(), types.ID(c.Param("id")))
	if errors.Is(err, partner.ErrNotFound) {
		writeError(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, p)
}
