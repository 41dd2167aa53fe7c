package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jason-s-yu/liveroom/internal/auth"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/jason-s-yu/liveroom/internal/room/memstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv     *Server
	handler http.Handler
}

func newTestAPI(t *testing.T, opts ...Option) *testAPI {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	issuer, err := auth.NewIssuer(time.Hour)
	require.NoError(t, err)
	store := memstore.New()
	engine := room.NewEngine(store, logger)
	gateway := auth.NewGateway(issuer, store, nil, logger)

	srv := NewServer(engine, gateway, logger, opts...)
	return &testAPI{srv: srv, handler: srv.Routes()}
}

// call sends body as JSON with token as bearer and decodes a 200 response into out.
func (a *testAPI) call(t *testing.T, method, path, token string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w
}

func (a *testAPI) register(t *testing.T, name string, avatar int64) string {
	t.Helper()
	var resp struct {
		Token string `json:"user_token"`
	}
	w := a.call(t, http.MethodPost, "/user/create", "", map[string]any{"user_name": name, "leader_card_id": avatar}, &resp)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEmpty(t, resp.Token)
	return resp.Token
}
