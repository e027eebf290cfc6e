package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core/simulation"
)

type simulationApi struct {
	svc      *simulation.Service
	validate *validator.Validate
}

func registerSimulationAPI(g *echo.Group, svc *simulation.Service, validate *validator.Validate) {
	api := simulationApi{svc: svc, validate: validate}

	sg := g.Group("/simulation")

	sg.POST("/scenarios", api.createScenario)
	sg.GET("/scenarios", api.queryScenarios)
	sg.DELETE("/scenarios/:id", api.destroyScenario)
	sg.POST("/scenarios/:id/run", api.run)

	sg.GET("/tests", api.queryTests)
	sg.GET("/tests/:id", api.retrieveTest)
	sg.POST("/tests/:id/stop", api.stopTest)
	sg.DELETE("/tests/:id", api.destroyTest)

	sg.GET("/devices", api.queryDevices)
	sg.PATCH("/devices/:id", api.patchDevice)
}

// Scenarios

func (api *simulationApi) createScenario(ctx echo.Context) error {
	var data simulation.NewScenario
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewScenario")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sc, err := api.svc.CreateScenario(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating scenario")
	}
	return ctx.JSON(http.StatusCreated, sc)
}

func (api *simulationApi) queryScenarios(ctx echo.Context) error {
	scenarios, err := api.svc.QueryScenarios(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying scenarios")
	}
	return ctx.JSON(http.StatusOK, scenarios)
}

func (api *simulationApi) destroyScenario(ctx echo.Context) error {
	if err := api.svc.DeleteScenario(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *simulationApi) run(ctx echo.Context) error {
	testID, err := api.svc.Run(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusAccepted, echo.Map{"test_id": testID})
}

// Test runs

func (api *simulationApi) queryTests(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"active": api.svc.ActiveTestIDs()})
}

func (api *simulationApi) retrieveTest(ctx echo.Context) error {
	res, err := api.svc.Results(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *simulationApi) stopTest(ctx echo.Context) error {
	stopped, err := api.svc.Stop(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"stopped": stopped})
}

func (api *simulationApi) destroyTest(ctx echo.Context) error {
	if err := api.svc.DeleteResults(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Devices

func (api *simulationApi) queryDevices(ctx echo.Context) error {
	devices, err := api.svc.QueryDevices(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying devices")
	}
	return ctx.JSON(http.StatusOK, devices)
}

func (api *simulationApi) patchDevice(ctx echo.Context) error {
	var data simulation.UpdateDevice
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateDevice")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	dev, err := api.svc.PatchDevice(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, dev)
}
