package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorganca/gptenc/api"
	"github.com/jmorganca/gptenc/version"
	"github.com/jmorganca/gptenc/vocab"
)

var gpt2 = sync.OnceValues(func() (*vocab.Model, error) {
	return vocab.Load("gpt2")
})

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := gpt2()
	require.NoError(t, err)

	enc, err := m.NewEncoder()
	require.NoError(t, err)

	return &Server{model: m, enc: enc}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var b []byte
	switch body := body.(type) {
	case nil:
	case string:
		b = []byte(body)
	default:
		var err error
		b, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestTokenizeHandler(t *testing.T) {
	h := newTestServer(t).GenerateRoutes()

	cases := []struct {
		name string
		req  api.TokenizeRequest
		want []uint32
	}{
		{"hello world", api.TokenizeRequest{Text: "Hello, World"}, []uint32{15496, 11, 2159}},
		{"empty", api.TokenizeRequest{Text: ""}, []uint32{}},
		{"special as text", api.TokenizeRequest{Text: "<|endoftext|>"}, []uint32{27, 91, 437, 1659, 5239, 91, 29}},
		{"special", api.TokenizeRequest{Text: "Hello<|endoftext|>", Special: true}, []uint32{15496, 50256}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/tokenize", tt.req)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var resp api.TokenizeResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Tokens)
		})
	}
}

func TestTokenizeHandlerBadRequest(t *testing.T) {
	h := newTestServer(t).GenerateRoutes()

	cases := []struct {
		name string
		body any
		want string
	}{
		{"missing body", nil, "missing request body"},
		{"malformed json", `{"text": `, "unexpected EOF"},
		{"wrong type", `{"text": 1}`, "cannot unmarshal"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/tokenize", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp["error"], tt.want)
		})
	}
}

func TestDetokenizeHandler(t *testing.T) {
	h := newTestServer(t).GenerateRoutes()

	w := do(t, h, http.MethodPost, "/api/detokenize", api.DetokenizeRequest{Tokens: []uint32{15496, 11, 2159}})
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.DetokenizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Hello, World", resp.Text)

	w = do(t, h, http.MethodPost, "/api/detokenize", api.DetokenizeRequest{Tokens: []uint32{999999999}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown token: 999999999")
}

func TestDetokenizeHandlerPartialCharacter(t *testing.T) {
	h := newTestServer(t).GenerateRoutes()

	// 12520 is " " followed by the first two bytes of a four byte emoji
	w := do(t, h, http.MethodPost, "/api/detokenize", api.DetokenizeRequest{Tokens: []uint32{12520}})
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.DetokenizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []byte(" \xf0\x9f"), resp.Bytes)
	assert.Equal(t, " \uFFFD\uFFFD", resp.Text)

	w = do(t, h, http.MethodPost, "/api/detokenize", api.DetokenizeRequest{Tokens: []uint32{12520, 234, 235}})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []byte(" 🌍"), resp.Bytes)
	assert.Equal(t, " 🌍", resp.Text)
}

func TestCountHandler(t *testing.T) {
	h := newTestServer(t).GenerateRoutes()

	w := do(t, h, http.MethodPost, "/api/count", api.TokenizeRequest{Text: "This is some text"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.CountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Count)
}

func TestTokenizeBatchHandler(t *testing.T) {
	h := newTestServer(t).GenerateRoutes()

	w := do(t, h, http.MethodPost, "/api/tokenize/batch", api.BatchTokenizeRequest{
		Texts: []string{"Hello, World", "", "indivisible"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.BatchTokenizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, [][]uint32{{15496, 11, 2159}, {}, {521, 452, 12843}}, resp.Tokens)

	w = do(t, h, http.MethodPost, "/api/tokenize/batch", api.BatchTokenizeRequest{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tokens": []}`, w.Body.String())
}

func TestStatusHandler(t *testing.T) {
	s := newTestServer(t)
	h := s.GenerateRoutes()

	do(t, h, http.MethodPost, "/api/tokenize", api.TokenizeRequest{Text: "Hello Hello"})

	w := do(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "gpt2", resp.Vocabulary)
	assert.Equal(t, 50257, resp.Tokens)
	assert.Equal(t, 50000, resp.Merges)
	assert.Equal(t, []string{"<|endoftext|>"}, resp.Special)
	assert.Equal(t, 2, resp.Cache.Entries)
}

func TestRequestID(t *testing.T) {
	h := newTestServer(t).GenerateRoutes()

	w := do(t, h, http.MethodGet, "/api/version", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	req.Header.Set("X-Request-Id", "abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-Id"))
}

func TestCORS(t *testing.T) {
	h := newTestServer(t).GenerateRoutes()

	cases := []struct {
		name   string
		origin string
		status int
		allow  string
	}{
		{"localhost with port", "http://localhost:3000", http.StatusNoContent, "http://localhost:3000"},
		{"loopback", "http://127.0.0.1", http.StatusNoContent, "http://127.0.0.1"},
		{"disallowed", "http://evil.com", http.StatusForbidden, ""},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/tokenize", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.allow, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestClientRoundTrip(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).GenerateRoutes())
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	ctx := context.Background()
	client := api.NewClient(u, ts.Client())

	require.NoError(t, client.Heartbeat(ctx))

	v, err := client.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, version.Version, v)

	text := "hello 👋 world 🌍"
	tok, err := client.Tokenize(ctx, &api.TokenizeRequest{Text: text})
	require.NoError(t, err)
	assert.Equal(t, []uint32{31373, 50169, 233, 995, 12520, 234, 235}, tok.Tokens)

	detok, err := client.Detokenize(ctx, &api.DetokenizeRequest{Tokens: tok.Tokens})
	require.NoError(t, err)
	assert.Equal(t, text, detok.Text)

	_, err = client.Detokenize(ctx, &api.DetokenizeRequest{Tokens: []uint32{999999999}})
	var statusErr api.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.True(t, strings.Contains(statusErr.ErrorMessage, "unknown token"))
}
