package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/notecase/internal/config"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("MASTER_KEY", testMasterKey)
	t.Setenv("DATABASE_PATH", t.TempDir())
	t.Setenv("BASE_URL", "http://notes.test")
	cfg, err := config.LoadConfig(config.Flags{NoEmail: true, NoS3: true})
	require.NoError(t, err)
	return cfg
}

func TestNewApp_ServesAPI(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ts := httptest.NewServer(a.handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, err = http.Post(ts.URL+"/auth/register", "application/json",
		strings.NewReader(`{"email":"first@example.com","password":"long enough password"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/notes")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRun_RejectsMissingMasterKey(t *testing.T) {
	t.Setenv("MASTER_KEY", "")
	err := run(context.Background(), []string{"--test", "--env-file", ""})
	var verr *config.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Setenv("MASTER_KEY", testMasterKey)
	t.Setenv("DATABASE_PATH", t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, run(ctx, []string{"--test", "--env-file", "", "--addr", "127.0.0.1:0"}))
}
