package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseroute/backend/internal/countersign"
	"github.com/caseroute/backend/internal/models"
)

type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type BulkApproveRequest struct {
	CaseIDs []string `json:"case_ids" validate:"required,min=1,dive,required"`
}

type CountersignRequest struct {
	Order     string             `json:"order" validate:"required,oneof=FIRST SECOND"`
	Decisions []countersign.Item `json:"decisions" validate:"required,min=1,dive"`
}

type RouteRequest struct {
	KeepStatus bool `json:"keep_status"`
}

// @Summary Get case
// @Tags cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} service.CaseView
// @Failure 404 {object} map[string]any
// @Router /api/cases/{id} [get]
func (h *Handler) CaseGet(c *gin.Context) {
	view, err := h.Cases.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// @Summary Case queue movements
// @Tags cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {array} service.MovementView
// @Router /api/cases/{id}/movements [get]
func (h *Handler) CaseMovements(c *gin.Context) {
	moves, err := h.Cases.Movements(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": moves})
}

// @Summary Case audit trail
// @Tags cases
// @Produce json
// @Param id path string true "Case ID"
// @Router /api/cases/{id}/audit [get]
func (h *Handler) CaseAudit(c *gin.Context) {
	entries, err := h.Cases.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

// @Summary Change case status
// @Tags workflow
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body StatusRequest true "New status"
// @Success 200 {object} routing.Result
// @Failure 400 {object} map[string]any
// @Failure 403 {object} map[string]any
// @Router /api/cases/{id}/status [post]
func (h *Handler) CaseSetStatus(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req StatusRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.Cases.SetStatus(c.Request.Context(), actor, c.Param("id"), models.Status(req.Status))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Move a case forward off one queue
// @Tags workflow
// @Produce json
// @Param id path string true "Case ID"
// @Param queue_id path string true "Queue ID"
// @Success 200 {object} routing.Result
// @Router /api/cases/{id}/queues/{queue_id}/move-forward [post]
func (h *Handler) CaseMoveForward(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	res, err := h.Cases.MoveForward(c.Request.Context(), actor, c.Param("id"), c.Param("queue_id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Bulk approve cases on a queue
// @Tags workflow
// @Accept json
// @Produce json
// @Param queue_id path string true "Queue ID"
// @Param payload body BulkApproveRequest true "Cases"
// @Success 200 {object} routing.BulkSummary
// @Router /api/queues/{queue_id}/bulk-approve [post]
func (h *Handler) QueueBulkApprove(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req BulkApproveRequest
	if !h.bind(c, &req) {
		return
	}
	summary, err := h.Cases.BulkApprove(c.Request.Context(), actor, c.Param("queue_id"), req.CaseIDs)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Record countersign decisions
// @Tags countersign
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body CountersignRequest true "Decisions"
// @Router /api/cases/{id}/countersign [post]
func (h *Handler) CaseCountersign(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req CountersignRequest
	if !h.bind(c, &req) {
		return
	}
	decisions, err := h.Cases.Countersign(c.Request.Context(), actor, c.Param("id"), models.CountersignOrder(req.Order), req.Decisions)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": decisions})
}

// @Summary Create the exporter amendment
// @Description Returns the existing amendment when one was already created.
// @Tags amendments
// @Produce json
// @Param id path string true "Case ID"
// @Success 201 {object} models.Amendment
// @Router /api/cases/{id}/amendments [post]
func (h *Handler) CaseAmend(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	a, err := h.Cases.Amend(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// @Summary Run a routing pass
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body RouteRequest false "Options"
// @Success 200 {object} routing.Result
// @Router /api/cases/{id}/route [post]
func (h *Handler) CaseRoute(c *gin.Context) {
	var req RouteRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	res, err := h.Cases.Route(c.Request.Context(), h.System, c.Param("id"), req.KeepStatus)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
