package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jmorganca/gptenc/api"
	"github.com/jmorganca/gptenc/bpe"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := NewCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseIDs(t *testing.T) {
	tests := []struct {
		input    string
		expected []uint32
		err      string
	}{
		{input: "15496 11 2159", expected: []uint32{15496, 11, 2159}},
		{input: "15496,11,2159\n", expected: []uint32{15496, 11, 2159}},
		{input: "[15496, 11, 2159]", expected: []uint32{15496, 11, 2159}},
		{input: "", expected: []uint32{}},
		{input: "1 two", err: `invalid token id "two"`},
		{input: "-1", err: `invalid token id "-1"`},
		{input: "4294967296", err: `invalid token id "4294967296"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ids, err := parseIDs(tt.input)
			if tt.err != "" {
				if err == nil || !strings.Contains(err.Error(), tt.err) {
					t.Fatalf("expected error containing %q, got %v", tt.err, err)
				}
				return
			}

			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(tt.expected, ids); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadTextTerminal(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	if isTerminal(r) {
		t.Error("pipe reported as a terminal")
	}

	if isTerminal(strings.NewReader("Hello")) {
		t.Error("reader reported as a terminal")
	}

	prev := isTerminal
	isTerminal = func(io.Reader) bool { return true }
	t.Cleanup(func() { isTerminal = prev })

	for _, name := range []string{"encode", "decode", "count", "inspect"} {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, "", name, "--vocab", "gpt2")
			if !errors.Is(err, errNoInput) {
				t.Errorf("expected %v, got %v", errNoInput, err)
			}
		})
	}

	got, err := run(t, "", "encode", "--vocab", "gpt2", "Hello, World")
	if err != nil {
		t.Fatal(err)
	}

	if got != "15496 11 2159\n" {
		t.Errorf("expected %q, got %q", "15496 11 2159\n", got)
	}
}

func TestEncodeHandler(t *testing.T) {
	tests := []struct {
		name           string
		stdin          string
		args           []string
		expectedOutput string
	}{
		{
			name:           "args",
			args:           []string{"encode", "--vocab", "gpt2", "Hello,", "World"},
			expectedOutput: "15496 11 2159\n",
		},
		{
			name:           "stdin",
			stdin:          "Hello, World",
			args:           []string{"encode", "--vocab", "gpt2"},
			expectedOutput: "15496 11 2159\n",
		},
		{
			name:           "json",
			args:           []string{"encode", "--vocab", "gpt2", "--json", "Hello, World"},
			expectedOutput: "[15496,11,2159]\n",
		},
		{
			name:           "special as text",
			args:           []string{"encode", "--vocab", "gpt2", "<|endoftext|>"},
			expectedOutput: "27 91 437 1659 5239 91 29\n",
		},
		{
			name:           "special",
			args:           []string{"encode", "--vocab", "gpt2", "--special", "<|endoftext|>"},
			expectedOutput: "50256\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatal(err)
			}

			if got != tt.expectedOutput {
				t.Errorf("expected output %q, got %q", tt.expectedOutput, got)
			}
		})
	}
}

func TestDecodeHandler(t *testing.T) {
	got, err := run(t, "", "decode", "--vocab", "gpt2", "15496", "11", "2159")
	if err != nil {
		t.Fatal(err)
	}

	if got != "Hello, World" {
		t.Errorf("expected %q, got %q", "Hello, World", got)
	}

	got, err = run(t, "[31373, 50169, 233, 995, 12520, 234, 235]\n", "decode", "--vocab", "gpt2")
	if err != nil {
		t.Fatal(err)
	}

	if got != "hello 👋 world 🌍" {
		t.Errorf("expected %q, got %q", "hello 👋 world 🌍", got)
	}
}

func TestDecodeHandlerPartialCharacter(t *testing.T) {
	got, err := run(t, "", "decode", "--vocab", "gpt2", "12520")
	if err != nil {
		t.Fatal(err)
	}

	if got != " \xf0\x9f" {
		t.Errorf("expected %q, got %q", " \xf0\x9f", got)
	}

	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/api/detokenize":
			json.NewEncoder(w).Encode(api.DetokenizeResponse{Text: " \uFFFD\uFFFD", Bytes: []byte(" \xf0\x9f")})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	t.Setenv("GPTENC_HOST", mockServer.URL)

	remote, err := run(t, "", "decode", "--remote", "12520")
	if err != nil {
		t.Fatal(err)
	}

	if remote != got {
		t.Errorf("remote decode %q differs from local decode %q", remote, got)
	}
}

func TestDecodeHandlerErrors(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		expectedError string
	}{
		{"unknown token", []string{"decode", "--vocab", "gpt2", "999999999"}, "unknown token: 999999999"},
		{"not a number", []string{"decode", "--vocab", "gpt2", "hello"}, `invalid token id "hello"`},
		{"unknown vocabulary", []string{"decode", "--vocab", "nope.txt", "1"}, "unknown vocabulary source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, "", tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.expectedError) {
				t.Errorf("expected error containing %q, got %v", tt.expectedError, err)
			}
		})
	}

	_, err := run(t, "", "decode", "--vocab", "gpt2", "999999999")
	var unknown *bpe.UnknownTokenError
	if !errors.As(err, &unknown) || unknown.ID != 999999999 {
		t.Errorf("expected UnknownTokenError for 999999999, got %v", err)
	}
}

func TestCountHandler(t *testing.T) {
	got, err := run(t, "", "count", "--vocab", "gpt2", "This is some text")
	if err != nil {
		t.Fatal(err)
	}

	if got != "4\n" {
		t.Errorf("expected %q, got %q", "4\n", got)
	}

	got, err = run(t, "Hello, World", "count", "--vocab", "gpt2", "-v")
	if err != nil {
		t.Fatal(err)
	}

	if got != "3 tokens, 12 B\n" {
		t.Errorf("expected %q, got %q", "3 tokens, 12 B\n", got)
	}
}

func TestInspectHandler(t *testing.T) {
	got, err := run(t, "", "inspect", "--vocab", "gpt2", "Hello, World")
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 rows, got:\n%s", got)
	}

	for i, want := range [][]string{
		{"ID", "SYMBOL", "BYTES"},
		{"15496", "Hello", `"Hello"`},
		{"11", ",", `","`},
		{"2159", "ĠWorld", `" World"`},
	} {
		for _, field := range want {
			if !strings.Contains(lines[i], field) {
				t.Errorf("line %d %q does not contain %q", i, lines[i], field)
			}
		}
	}
}

func TestRemoteHandlers(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/api/tokenize":
			var req api.TokenizeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			if req.Text != "Hello, World" || !req.Special {
				http.Error(w, "unexpected request", http.StatusBadRequest)
				return
			}

			json.NewEncoder(w).Encode(api.TokenizeResponse{Tokens: []uint32{15496, 11, 2159}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/detokenize":
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "unknown token: 7"})
		case r.Method == http.MethodPost && r.URL.Path == "/api/count":
			json.NewEncoder(w).Encode(api.CountResponse{Count: 3})
		default:
			t.Errorf("unexpected request to %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	t.Setenv("GPTENC_HOST", mockServer.URL)

	got, err := run(t, "", "encode", "--remote", "--special", "Hello, World")
	if err != nil {
		t.Fatal(err)
	}

	if got != "15496 11 2159\n" {
		t.Errorf("expected %q, got %q", "15496 11 2159\n", got)
	}

	got, err = run(t, "", "count", "--remote", "Hello, World")
	if err != nil {
		t.Fatal(err)
	}

	if got != "3\n" {
		t.Errorf("expected %q, got %q", "3\n", got)
	}

	_, err = run(t, "", "decode", "--remote", "7")
	if err == nil || !strings.Contains(err.Error(), "unknown token: 7") {
		t.Errorf("expected error containing %q, got %v", "unknown token: 7", err)
	}
}

func TestRemoteNotRunning(t *testing.T) {
	mockServer := httptest.NewServer(http.NotFoundHandler())
	host := mockServer.URL
	mockServer.Close()

	t.Setenv("GPTENC_HOST", host)

	_, err := run(t, "", "encode", "--remote", "Hello")
	if err == nil || !strings.Contains(err.Error(), "could not connect to gptenc server") {
		t.Errorf("expected connection error, got %v", err)
	}
}

func TestStatusHandler(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			json.NewEncoder(w).Encode(api.StatusResponse{
				Vocabulary: "gpt2",
				Tokens:     50257,
				Merges:     50000,
				Special:    []string{"<|endoftext|>"},
				Cache:      api.CacheStats{Hits: 1500, Misses: 12, Entries: 12},
			})
		case "/api/version":
			json.NewEncoder(w).Encode(api.VersionResponse{Version: "1.2.3"})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	t.Setenv("GPTENC_HOST", mockServer.URL)

	got, err := run(t, "", "status")
	if err != nil {
		t.Fatal(err)
	}

	expected := "version:    1.2.3\n" +
		"vocabulary: gpt2\n" +
		"tokens:     50.3K\n" +
		"merges:     50K\n" +
		"special:    <|endoftext|>\n" +
		"cache:      12 entries, 1.5K hits, 12 misses\n"
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigHandler(t *testing.T) {
	got, err := run(t, "", "config", "--example")
	if err != nil {
		t.Fatal(err)
	}

	for _, section := range []string{"[server]", "[tokenizer]", "[logging]"} {
		if !strings.Contains(got, section) {
			t.Errorf("example config missing %s", section)
		}
	}

	got, err = run(t, "", "config")
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"GPTENC_HOST=", "GPTENC_VOCAB=", "GPTENC_CACHE_SIZE="} {
		if !strings.Contains(got, name) {
			t.Errorf("config output missing %s:\n%s", name, got)
		}
	}
}
