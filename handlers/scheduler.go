package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/services"
)

// SchedulerHandler covers on-call scheduling: schedulers, rotations, the
// shifts they expand into, overrides and swaps.
type SchedulerHandler struct {
	schedulers *services.SchedulerService
	rotations  *services.RotationService
	oncall     *services.OnCallService
	overrides  *services.OverrideService
}

func NewSchedulerHandler(schedulers *services.SchedulerService, rotations *services.RotationService,
	oncall *services.OnCallService, overrides *services.OverrideService) *SchedulerHandler {
	return &SchedulerHandler{
		schedulers: schedulers,
		rotations:  rotations,
		oncall:     oncall,
		overrides:  overrides,
	}
}

// CreateScheduler handles POST /api/groups/:id/schedulers.
func (h *SchedulerHandler) CreateScheduler(c *gin.Context) {
	var req db.CreateSchedulerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	filter := GetTenantFilter(c)
	if req.OrganizationID == "" {
		req.OrganizationID = filter.OrgID
	}
	if req.ProjectID == "" {
		req.ProjectID = filter.ProjectID
	}

	scheduler, err := h.schedulers.CreateScheduler(c.Param("id"), req, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, scheduler)
}

// ListSchedulers handles GET /api/groups/:id/schedulers.
func (h *SchedulerHandler) ListSchedulers(c *gin.Context) {
	schedulers, err := h.schedulers.GetSchedulersByGroup(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedulers": schedulers})
}

// GetScheduler handles GET /api/schedulers/:scheduler_id.
func (h *SchedulerHandler) GetScheduler(c *gin.Context) {
	scheduler, err := h.schedulers.GetScheduler(c.Param("scheduler_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, scheduler)
}

// UpdateScheduler handles PUT /api/schedulers/:scheduler_id.
func (h *SchedulerHandler) UpdateScheduler(c *gin.Context) {
	var req db.CreateSchedulerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	scheduler, err := h.schedulers.UpdateScheduler(c.Param("scheduler_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, scheduler)
}

// DeleteScheduler handles DELETE /api/schedulers/:scheduler_id.
func (h *SchedulerHandler) DeleteScheduler(c *gin.Context) {
	if err := h.schedulers.DeleteScheduler(c.Param("scheduler_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Scheduler deleted"})
}

// CreateRotation handles POST /api/schedulers/:scheduler_id/rotations.
func (h *SchedulerHandler) CreateRotation(c *gin.Context) {
	var req db.CreateRotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rotation, err := h.rotations.CreateRotation(c.Param("scheduler_id"), req, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rotation)
}

// ListRotations handles GET /api/schedulers/:scheduler_id/rotations.
func (h *SchedulerHandler) ListRotations(c *gin.Context) {
	rotations, err := h.rotations.ListRotations(c.Param("scheduler_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rotations": rotations})
}

// GetRotation handles GET /api/rotations/:rotation_id.
func (h *SchedulerHandler) GetRotation(c *gin.Context) {
	rotation, err := h.rotations.GetRotation(c.Param("rotation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if rotation == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rotation not found"})
		return
	}
	c.JSON(http.StatusOK, rotation)
}

// UpdateRotation handles PUT /api/rotations/:rotation_id. Future shifts are
// regenerated from the new configuration; past shifts stay untouched.
func (h *SchedulerHandler) UpdateRotation(c *gin.Context) {
	var req db.UpdateRotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rotation, err := h.rotations.UpdateRotation(c.Param("rotation_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rotation)
}

// DeleteRotation handles DELETE /api/rotations/:rotation_id.
func (h *SchedulerHandler) DeleteRotation(c *gin.Context) {
	if err := h.rotations.DeleteRotation(c.Param("rotation_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rotation deleted"})
}

// RegenerateShifts handles POST /api/rotations/:rotation_id/regenerate.
func (h *SchedulerHandler) RegenerateShifts(c *gin.Context) {
	count, err := h.rotations.RegenerateShifts(c.Param("rotation_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Shifts regenerated", "shifts_created": count})
}

// GetSchedulerShifts handles GET /api/schedulers/:scheduler_id/shifts.
func (h *SchedulerHandler) GetSchedulerShifts(c *gin.Context) {
	shifts, err := h.schedulers.GetShiftsByScheduler(c.Param("scheduler_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shifts": shifts})
}

// GetGroupShifts handles GET /api/groups/:id/shifts.
func (h *SchedulerHandler) GetGroupShifts(c *gin.Context) {
	shifts, err := h.schedulers.GetAllShiftsInGroup(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shifts": shifts})
}

// GetCurrentOnCall handles GET /api/groups/:id/oncall.
func (h *SchedulerHandler) GetCurrentOnCall(c *gin.Context) {
	shift, err := h.oncall.GetCurrentOnCallForGroup(c.Param("id"), time.Now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}
	if shift == nil {
		c.JSON(http.StatusOK, gin.H{"on_call": nil, "message": "Nobody is on call"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"on_call": shift})
}

// GetUpcomingShifts handles GET /api/groups/:id/oncall/upcoming.
func (h *SchedulerHandler) GetUpcomingShifts(c *gin.Context) {
	days := 7
	if d, err := strconv.Atoi(c.Query("days")); err == nil && d > 0 {
		days = d
	}

	shifts, err := h.oncall.GetUpcomingShifts(c.Param("id"), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shifts": shifts})
}

// SwapShifts handles POST /api/shifts/swap.
func (h *SchedulerHandler) SwapShifts(c *gin.Context) {
	var req db.ShiftSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.oncall.SwapShifts(req, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateOverride handles POST /api/overrides.
func (h *SchedulerHandler) CreateOverride(c *gin.Context) {
	var req db.CreateOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	override, err := h.overrides.CreateOverride(req, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, override)
}

// ListOverrides handles GET /api/groups/:id/overrides.
func (h *SchedulerHandler) ListOverrides(c *gin.Context) {
	overrides, err := h.overrides.ListOverrides(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": overrides})
}

// DeleteOverride handles DELETE /api/overrides/:override_id.
func (h *SchedulerHandler) DeleteOverride(c *gin.Context) {
	if err := h.overrides.DeleteOverride(c.Param("override_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Override deleted"})
}
