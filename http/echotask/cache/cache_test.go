package cache_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zircuit-labs/zkr-go-thunk/http/echotask/cache"
)

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, target, http.NoBody))
	return rec
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	memory := cache.NewMemory(10, time.Minute)
	calls := 0
	e := echo.New()
	e.Use(cache.Middleware(memory))
	e.GET("/state", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, map[string]int{"calls": calls})
	})
	e.GET("/missing", func(c echo.Context) error {
		calls++
		return c.NoContent(http.StatusNotFound)
	})
	e.POST("/state", func(c echo.Context) error {
		calls++
		return c.NoContent(http.StatusAccepted)
	})

	first := serve(e, http.MethodGet, "/state")
	second := serve(e, http.MethodGet, "/state")
	assert.JSONEq(t, `{"calls":1}`, first.Body.String())
	assert.JSONEq(t, `{"calls":1}`, second.Body.String())
	assert.Equal(t, first.Header().Get(echo.HeaderContentType), second.Header().Get(echo.HeaderContentType))

	// other query strings are different entries
	assert.JSONEq(t, `{"calls":2}`, serve(e, http.MethodGet, "/state?x=1").Body.String())

	serve(e, http.MethodGet, "/missing")
	serve(e, http.MethodGet, "/missing")
	assert.Equal(t, 4, calls)

	assert.Equal(t, http.StatusAccepted, serve(e, http.MethodPost, "/state").Code)
	assert.Equal(t, 5, calls)

	memory.Purge()
	assert.JSONEq(t, `{"calls":6}`, serve(e, http.MethodGet, "/state").Body.String())
}

func TestMemoryExpires(t *testing.T) {
	t.Parallel()

	memory := cache.NewMemory(1, 10*time.Millisecond)
	memory.Set("a", cache.Entry{Body: []byte("a")})
	entry, ok := memory.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("a"), entry.Body)

	memory.Set("b", cache.Entry{Body: []byte("b")})
	_, ok = memory.Get("a")
	assert.False(t, ok, "evicted by size")

	assert.Eventually(t, func() bool {
		_, ok := memory.Get("b")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
