package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zircuit-labs/zkr-go-thunk/action"
	"github.com/zircuit-labs/zkr-go-thunk/http/echotask"
	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/relay"
	"github.com/zircuit-labs/zkr-go-thunk/store"
	"github.com/zircuit-labs/zkr-go-thunk/thunk"
)

const maxPingDelay = 10 * time.Second

var errPingFailed = errors.New("ping failed on request")

var actions = action.NewFactory("thunkrelay")

// PingParams controls the ping operation.
type PingParams struct {
	Delay time.Duration `json:"delay"`
	Fail  bool          `json:"fail"`
}

// Pong is the result of the ping operation.
type Pong struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ping is a round trip through the operation lifecycle, relayed like any
// other. It is meant for checking a deployment end to end.
var ping = thunk.Bind(
	action.NewAsync[PingParams, Pong](actions, "ping", nil),
	func(ctx context.Context, p PingParams, api thunk.API[Summary, *deps]) (Pong, error) {
		if p.Delay > 0 {
			timer := time.NewTimer(min(p.Delay, maxPingDelay))
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return Pong{}, ctx.Err()
			case <-timer.C:
			}
		}
		if p.Fail {
			return Pong{}, errPingFailed
		}
		return Pong{Message: "pong", At: api.Extra.now()}, nil
	},
)

type routes struct {
	store    *store.Store[Summary, *deps]
	consumer *relay.Consumer
}

func (r *routes) RegisterRoutes(e echotask.RouteRegistrant) error {
	e.POST("/ping", r.postPing)
	e.GET("/relay/last", r.getLast)
	return nil
}

func (r *routes) postPing(c echo.Context) error {
	var p PingParams
	if err := c.Bind(&p); err != nil {
		return err
	}
	pong, err := ping.Run(c.Request().Context(), p, r.store.API())
	if err != nil {
		r.store.Extra().logger.Info("ping failed", log.ErrAttr(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, pong)
}

func (r *routes) getLast(c echo.Context) error {
	a, meta, err := r.consumer.Last(c.Request().Context())
	if errors.Is(err, relay.ErrNoMessages) {
		return echo.NewHTTPError(http.StatusNotFound, "no relayed actions yet")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"action":   a,
		"sequence": meta.Sequence.Stream,
		"at":       meta.Timestamp,
	})
}
