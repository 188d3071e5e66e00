// Package actionapi exposes a store over HTTP: its state, the actions it
// saw most recently, and an endpoint to dispatch actions into it.
package actionapi

import (
	"maps"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/zircuit-labs/zkr-go-thunk/action"
	"github.com/zircuit-labs/zkr-go-thunk/http/echotask"
	"github.com/zircuit-labs/zkr-go-thunk/store"
)

const defaultHistory = 100

// MetaRemote is the meta key set on actions dispatched over HTTP, holding
// the client address.
const MetaRemote = "http_remote"

// Routes serves one store.
type Routes[S, E any] struct {
	store *store.Store[S, E]

	mu     sync.Mutex
	recent []action.Action
	limit  int
}

// New creates Routes for s, remembering the last history actions it
// dispatches (100 when history is not positive).
func New[S, E any](s *store.Store[S, E], history int) *Routes[S, E] {
	if history <= 0 {
		history = defaultHistory
	}
	r := &Routes[S, E]{store: s, limit: history}
	s.Subscribe(r.remember)
	return r
}

func (r *Routes[S, E]) remember(a action.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, a)
	if over := len(r.recent) - r.limit; over > 0 {
		r.recent = slices.Delete(r.recent, 0, over)
	}
}

// RegisterRoutes implements echotask.RouteRegistration.
func (r *Routes[S, E]) RegisterRoutes(e echotask.RouteRegistrant) error {
	e.GET("/state", r.getState)
	e.GET("/actions", r.getActions)
	e.POST("/actions", r.postAction)
	return nil
}

func (r *Routes[S, E]) getState(c echo.Context) error {
	return c.JSON(http.StatusOK, r.store.GetState())
}

// getActions returns recent actions, oldest first. The optional limit query
// parameter keeps only the newest ones.
func (r *Routes[S, E]) getActions(c echo.Context) error {
	r.mu.Lock()
	recent := slices.Clone(r.recent)
	r.mu.Unlock()

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		if limit < len(recent) {
			recent = recent[len(recent)-limit:]
		}
	}
	if recent == nil {
		recent = []action.Action{}
	}
	return c.JSON(http.StatusOK, recent)
}

func (r *Routes[S, E]) postAction(c echo.Context) error {
	var a action.Action
	if err := c.Bind(&a); err != nil {
		return err
	}
	if a.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action type is required")
	}

	meta := maps.Clone(a.Meta)
	if meta == nil {
		meta = action.Meta{}
	}
	meta[MetaRemote] = c.RealIP()
	a.Meta = meta

	r.store.Dispatch(a)
	return c.JSON(http.StatusAccepted, a)
}
