package cache

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"
)

type store interface {
	Get(key string) (Entry, bool)
	Set(key string, entry Entry)
}

// Middleware serves repeated GET requests for the same URI from c. Only
// 200 responses are cached.
func Middleware(c store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if ctx.Request().Method != http.MethodGet {
				return next(ctx)
			}

			key := ctx.Request().URL.RequestURI()
			if entry, ok := c.Get(key); ok {
				return ctx.Blob(http.StatusOK, entry.ContentType, entry.Body)
			}

			res := ctx.Response()
			recorder := &recorder{ResponseWriter: res.Writer}
			res.Writer = recorder
			defer func() { res.Writer = recorder.ResponseWriter }()

			if err := next(ctx); err != nil {
				return err
			}
			if res.Status == http.StatusOK {
				c.Set(key, Entry{
					ContentType: res.Header().Get(echo.HeaderContentType),
					Body:        recorder.body.Bytes(),
				})
			}
			return nil
		}
	}
}

// recorder copies everything written to the wrapped writer.
type recorder struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(data []byte) (int, error) {
	r.body.Write(data)
	return r.ResponseWriter.Write(data)
}
