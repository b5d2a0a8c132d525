package main

import (
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/middleware"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/session"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
	"github.com/sirupsen/logrus"
)

// OpenShiftRequest represents the open shift request
type OpenShiftRequest struct {
	OpeningCash int64 `json:"opening_cash" binding:"min=0"`
}

// CloseShiftRequest represents the close shift request
type CloseShiftRequest struct {
	ClosingCash *int64 `json:"closing_cash" binding:"required,min=0"`
}

// supervisors may close shifts opened by others
var supervisors = map[string]bool{
	string(models.RoleOwner):   true,
	string(models.RoleAdmin):   true,
	string(models.RoleManager): true,
}

// handleOpenShift opens a cash-drawer shift for the caller
func handleOpenShift() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OpenShiftRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		claims, h, ok := caller(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		shifts := tenancy.NewRepository[models.Shift](h)

		// Check if the caller already has an open shift
		open, err := shifts.Count(ctx, "employee_id = ? AND status = ?", claims.PrincipalID, models.ShiftOpen)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if open > 0 {
			utils.ErrorFromErr(c, errs.New(errs.EConflict, "shift.Open", "you already have an open shift"))
			return
		}

		shift := &models.Shift{
			EmployeeID:  claims.PrincipalID,
			Status:      models.ShiftOpen,
			OpeningCash: req.OpeningCash,
			OpenedAt:    time.Now().UTC(),
		}
		if err := shifts.Create(ctx, shift); err != nil {
			// a concurrent open won the race
			if errs.Is(err, errs.EConflict) {
				err = errs.New(errs.EConflict, "shift.Open", "you already have an open shift")
			}
			utils.ErrorFromErr(c, err)
			return
		}

		logrus.WithFields(logrus.Fields{
			"tenant":   claims.TenantSlug,
			"shift_id": shift.ID,
			"employee": claims.PrincipalID,
		}).Info("Shift opened")
		utils.CreatedResponse(c, "Shift opened successfully", shift)
	}
}

// handleCloseShift closes an open shift. Staff close their own shifts;
// supervisors may close any.
func handleCloseShift() gin.HandlerFunc {
	return func(c *gin.Context) {
		shiftID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "Invalid shift ID")
			return
		}

		var req CloseShiftRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		claims, h, ok := caller(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		shifts := tenancy.NewRepository[models.Shift](h)

		shift, err := shifts.First(ctx, "id = ?", shiftID)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if shift.EmployeeID != claims.PrincipalID && !supervisors[claims.Role] {
			utils.ForbiddenResponse(c, "You can only close your own shift")
			return
		}
		if !shift.IsOpen() {
			utils.ErrorFromErr(c, errs.New(errs.EConflict, "shift.Close", "shift is already closed"))
			return
		}

		shift.Close(time.Now().UTC(), *req.ClosingCash)
		if err := shifts.Save(ctx, shift); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		logrus.WithFields(logrus.Fields{
			"tenant":    claims.TenantSlug,
			"shift_id":  shift.ID,
			"closed_by": claims.PrincipalID,
			"duration":  shift.Duration,
		}).Info("Shift closed")
		utils.OKResponse(c, "Shift closed successfully", shift)
	}
}

// handleCurrentShift returns the caller's open shift
func handleCurrentShift() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, h, ok := caller(c)
		if !ok {
			return
		}

		shift, err := tenancy.NewRepository[models.Shift](h).First(c.Request.Context(),
			"employee_id = ? AND status = ?", claims.PrincipalID, models.ShiftOpen)
		if err != nil {
			if errs.Is(err, errs.ENotFound) {
				utils.NotFoundResponse(c, "No open shift")
				return
			}
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Shift retrieved successfully", shift)
	}
}

// handleListShifts lists shifts, newest first. Supervisors see every shift,
// other staff only their own.
func handleListShifts() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, h, ok := caller(c)
		if !ok {
			return
		}
		shifts := tenancy.NewRepository[models.Shift](h)

		var (
			list []models.Shift
			err  error
		)
		if supervisors[claims.Role] {
			list, err = shifts.Find(c.Request.Context(), nil)
		} else {
			list, err = shifts.Find(c.Request.Context(), "employee_id = ?", claims.PrincipalID)
		}
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		sort.Slice(list, func(i, j int) bool { return list[i].OpenedAt.After(list[j].OpenedAt) })
		utils.OKResponse(c, "Shifts retrieved successfully", list)
	}
}

// caller returns the authenticated principal and tenant handle, writing an error response when missing
func caller(c *gin.Context) (*session.Claims, tenancy.Handle, bool) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		utils.UnauthorizedResponse(c, "Authentication required")
		return nil, tenancy.Handle{}, false
	}
	h, err := middleware.GetHandle(c)
	if err != nil {
		utils.ErrorFromErr(c, err)
		return nil, tenancy.Handle{}, false
	}
	return claims, h, true
}
