package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	promx "github.com/sifan077/PowerCMS/internal/infra/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetrics_LabelsByRouteTemplate(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics())
	app.Get("/api/banners/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Delete("/api/banners/:id", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusConflict, "expired") })

	ok := promx.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/banners/:id", "200")
	conflict := promx.HTTPRequestsTotal.WithLabelValues(http.MethodDelete, "/api/banners/:id", "409")
	okBefore, conflictBefore := counterValue(t, ok), counterValue(t, conflict)

	for _, id := range []string{"1", "2"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/banners/"+id, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/banners/3", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	assert.Equal(t, okBefore+2, counterValue(t, ok))
	assert.Equal(t, conflictBefore+1, counterValue(t, conflict))

	var gauge dto.Metric
	require.NoError(t, promx.HTTPActiveRequests.Write(&gauge))
	assert.Equal(t, float64(0), gauge.GetGauge().GetValue())
}
