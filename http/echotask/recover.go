package echotask

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/zircuit-labs/zkr-go-thunk/calm"
	"github.com/zircuit-labs/zkr-go-thunk/log"
	"github.com/zircuit-labs/zkr-go-thunk/xerrors/errclass"
)

// Recover turns a panicking handler into a 500 response and logs the panic.
func Recover(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := calm.Unpanic(func() error {
				return next(c)
			})
			if errclass.GetClass(err) != errclass.Panic {
				return err
			}
			logger.Error("handler panicked",
				log.ErrAttr(err),
				slog.String("method", c.Request().Method),
				slog.String("path", c.Path()),
			)
			c.Error(err)
			return nil
		}
	}
}
