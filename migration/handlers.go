package migration

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the migration-status read surface on g,
// carried over from statemanager.Manager.RegisterRoutes with the same
// echo.Group convention the teacher's HTTP layer uses throughout.
func (t *Tracker) RegisterRoutes(g *echo.Group) {
	g.GET("/migrations", t.handleList)
	g.GET("/migrations/:id", t.handleGet)
	g.GET("/migrations/stats", t.handleStats)
}

func (t *Tracker) handleList(c echo.Context) error {
	return c.JSON(http.StatusOK, t.List())
}

func (t *Tracker) handleGet(c echo.Context) error {
	id := c.Param("id")
	s := t.Get(id)
	if s == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "migration not found"})
	}
	return c.JSON(http.StatusOK, s)
}

func (t *Tracker) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, t.Stats())
}
