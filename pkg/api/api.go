package api

import (
	"github.com/fako1024/btbodyscale/pkg/cult"
	"github.com/gofiber/fiber/v2"
)

// API denotes a REST API for a scale session
type API struct {
	session *cult.Session
	router  *fiber.App
}

// New instantiates a new API
func New(s *cult.Session, endpoint string) *API {

	api := API{
		session: s,
		router:  fiber.New(),
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/measurements", api.handleMeasurements())
	api.router.Get("/measurements/last", api.handleLastMeasurement())

	// Start to listen in goroutine
	go func() {
		if err := api.router.Listen(endpoint); err != nil {
			panic(err)
		}
	}()

	return &api
}

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		info := api.session.DeviceInfo()
		return c.JSON(fiber.Map{
			"manufacturer":         info.Manufacturer,
			"model":                info.Model,
			"firmware_version":     info.FirmwareVersion,
			"battery":              info.Battery,
			"configured":           api.session.Configured(),
			"measurement_complete": api.session.MeasurementComplete(),
			"unit":                 api.session.Unit().Symbol(),
		})
	}
}

func (api *API) handleMeasurements() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(api.session.Measurements())
	}
}

func (api *API) handleLastMeasurement() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		m, ok := api.session.LastMeasurement()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no measurement recorded yet")
		}

		return c.JSON(fiber.Map{
			"timestamp":    m.TimeStamp,
			"user_id":      m.UserID,
			"weight_kg":    m.Weight,
			"fat":          m.Fat,
			"water":        m.Water,
			"muscle":       m.Muscle,
			"bone_kg":      m.Bone,
			"visceral_fat": m.VisceralFat,
		})
	}
}
