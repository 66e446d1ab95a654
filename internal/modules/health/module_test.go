package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trade_ledger/internal/models"
	"trade_ledger/internal/modules/health/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMux(t *testing.T) {
	state := service.NewState()
	srv := httptest.NewServer(NewMux(state))
	defer srv.Close()

	get := func(path string) *http.Response {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/livez").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").StatusCode)

	state.RecordPass(models.PassResult{StartedAt: time.Now()}, nil, false)
	assert.Equal(t, http.StatusOK, get("/readyz").StatusCode)

	resp := get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
