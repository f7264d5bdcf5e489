package httputil_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareChain_LogsRequestAndActor(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("pharmacy-service", &buf)

	var seenActor string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenActor = actor.IDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})
	h := httputil.RequestID(httputil.Actor(httputil.Logger(log)(inner)))

	req := testutil.NewHTTPRequest(http.MethodGet, "/api/v1/pharmacy/alerts", nil)
	req = testutil.WithRequestID(testutil.WithUserHeaders(req, "user-1", "pharmacist@example.com"), "req-42")
	rr := testutil.ExecuteRequest(h, req)

	testutil.AssertStatus(t, rr, http.StatusTeapot)
	assert.Equal(t, "req-42", rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "user-1", seenActor)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	assert.Equal(t, "req-42", line["request_id"])
	assert.Equal(t, "user-1", line["user_id"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
	assert.Equal(t, "HTTP request", line["message"])
}

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	var seen string
	h := httputil.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httputil.GetRequestID(r.Context())
	}))

	rr := testutil.ExecuteRequest(h, testutil.NewHTTPRequest(http.MethodGet, "/", nil))

	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))
}

func TestRecoverer(t *testing.T) {
	h := httputil.Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := testutil.ExecuteRequest(h, testutil.NewHTTPRequest(http.MethodGet, "/", nil))
	testutil.AssertStatus(t, rr, http.StatusInternalServerError)
}
