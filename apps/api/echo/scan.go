package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core/scan"
)

type scanApi struct {
	svc      *scan.Service
	validate *validator.Validate
}

func registerScanAPI(g *echo.Group, svc *scan.Service, validate *validator.Validate) {
	api := scanApi{svc: svc, validate: validate}
	g.POST("/scans", api.submit)
}

// submit feeds one scan event into the pipeline. Recoverable refusals
// (malformed code, unknown code, cooldown) come back as 200 with
// accepted=false; only transport and system failures are HTTP errors.
func (api *scanApi) submit(ctx echo.Context) error {
	var data scan.SubmitScan
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitScan")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Submit(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "submitting scan")
	}

	return ctx.JSON(http.StatusOK, res)
}
