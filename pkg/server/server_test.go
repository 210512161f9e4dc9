package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer() *Server {
	return New(Config{
		ServiceName:  "funnelboard-test",
		Port:         0,
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}, zap.NewNop())
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestErrorHandler(t *testing.T) {
	t.Run("HTTPErrorKeepsCodeAndMessage", func(t *testing.T) {
		s := newTestServer()
		s.Group("/boom").GET("", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusBadRequest, "Неверные параметры запроса")
		})

		rec := serve(s, httptest.NewRequest(http.MethodGet, "/boom", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "Неверные параметры запроса", resp.Error)
	})

	t.Run("PlainErrorBecomesInternal", func(t *testing.T) {
		s := newTestServer()
		s.Group("/boom").GET("", func(c echo.Context) error {
			return errors.New("kaput")
		})

		rec := serve(s, httptest.NewRequest(http.MethodGet, "/boom", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "Внутренняя ошибка сервера", resp.Error)
	})

	t.Run("UnknownRouteIsShaped", func(t *testing.T) {
		rec := serve(newTestServer(), httptest.NewRequest(http.MethodGet, "/nope", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
	})
}

func TestPanicIsRecovered(t *testing.T) {
	s := newTestServer()
	s.Group("/panic").GET("", func(c echo.Context) error {
		panic("unexpected")
	})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
