package api

import (
	"time"

	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/btforce/pkg/metrics"
	"github.com/fako1024/btforce/pkg/session"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// Session denotes the (read-only) view of a session exposed by the API
type Session interface {
	Status() session.Status
	Cell() *force.Cell
	LastMeasurement() (session.LastMeasurement, bool)
}

// Reading denotes the JSON representation of the latest force reading
type Reading struct {
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Seq        uint64    `json:"seq"`
}

// API denotes a read-only REST API for a force sensor session
type API struct {
	session Session
	router  *fiber.App
}

// New instantiates a new API
func New(s Session) *API {

	api := API{
		session: s,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/reading", api.handleReading())
	api.router.Get("/measurements/last", api.handleLastMeasurement())
	api.router.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return &api
}

// Listen starts serving the API in the background, reporting a failure on the returned channel
func (api *API) Listen(endpoint string) <-chan error {
	errs := make(chan error, 1)
	go func() {
		errs <- api.router.Listen(endpoint)
	}()

	return errs
}

// Shutdown stops serving the API
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

////////////////////////////////////////////////////////////////////////////////

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(api.session.Status())
	}
}

func (api *API) handleReading() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		r, seq := api.session.Cell().Latest()
		if seq == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no reading received yet")
		}

		return c.JSON(Reading{
			Value:      r.Value,
			ObservedAt: r.ObservedAt,
			Seq:        seq,
		})
	}
}

func (api *API) handleLastMeasurement() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		last, ok := api.session.LastMeasurement()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no measurement saved yet")
		}

		return c.JSON(last)
	}
}
