package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core"
	"github.com/maktabahq/maktaba/core/attendance"
)

type attendanceApi struct {
	svc      *attendance.Service
	validate *validator.Validate
}

// StudentRequest identifies the student on explicit check-in/check-out calls.
type StudentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

func (sr *StudentRequest) Validate(validate *validator.Validate) error {
	sr.StudentID = core.CleanString(sr.StudentID)
	return validate.Struct(sr)
}

func registerAttendanceAPI(g *echo.Group, svc *attendance.Service, validate *validator.Validate) {
	api := attendanceApi{svc: svc, validate: validate}

	ag := g.Group("/attendance")
	ag.GET("/statistics", api.statistics)
	ag.POST("/check-in", api.checkIn)
	ag.POST("/check-out", api.checkOut)
	ag.GET("/:studentID", api.status)
}

func (api *attendanceApi) status(ctx echo.Context) error {
	status, err := api.svc.Status(ctx.Request().Context(), ctx.Param("studentID"))
	if err != nil {
		return errors.Wrap(err, "getting attendance status")
	}
	return ctx.JSON(http.StatusOK, status)
}

func (api *attendanceApi) checkIn(ctx echo.Context) error {
	var data StudentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tr, err := api.svc.CheckIn(ctx.Request().Context(), data.StudentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tr)
}

func (api *attendanceApi) checkOut(ctx echo.Context) error {
	var data StudentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tr, err := api.svc.CheckOut(ctx.Request().Context(), data.StudentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tr)
}

func (api *attendanceApi) statistics(ctx echo.Context) error {
	stats, err := api.svc.Statistics(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting attendance statistics")
	}
	return ctx.JSON(http.StatusOK, stats)
}
