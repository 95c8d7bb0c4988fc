package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beekhuis/changeguard/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestHandleRollback(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		currentConfig = &config.Config{Environment: config.Development}

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/liquibase/rollback", nil)
		newRouter().ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("failure reported", func(t *testing.T) {
		currentConfig = &config.Config{
			Environment: config.Development,
			Datasources: []config.Datasource{
				{Name: "default", Driver: "oracle", DSN: "x"},
			},
		}

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/liquibase/rollback", nil)
		newRouter().ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Contains(t, rec.Body.String(), "failed to open datasource: default")
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/liquibase/rollback", nil)
		newRouter().ServeHTTP(rec, req)

		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
