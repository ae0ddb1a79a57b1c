package envconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/jmorganca/gptenc/logutil"
)

var ErrInvalidHostPort = errors.New("invalid port specified in GPTENC_HOST")

const defaultPort = "11535"

var (
	// Set via GPTENC_ORIGINS in the environment
	AllowOrigins []string
	// Set via GPTENC_CACHE_SIZE in the environment. Zero means unbounded.
	CacheSize int
	// Set via GPTENC_DEBUG in the environment
	Debug bool
	// Set via GPTENC_DEBUG=2 in the environment
	Trace bool
	// Set via GPTENC_NUM_PARALLEL in the environment
	NumParallel int
	// Set via GPTENC_VOCAB in the environment
	Vocab string
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"GPTENC_DEBUG":        {"GPTENC_DEBUG", Debug, "Show additional debug information (e.g. GPTENC_DEBUG=1, GPTENC_DEBUG=2 for trace)"},
		"GPTENC_HOST":         {"GPTENC_HOST", Host().Host, "IP Address for the gptenc server (default 127.0.0.1:" + defaultPort + ")"},
		"GPTENC_ORIGINS":      {"GPTENC_ORIGINS", AllowOrigins, "A comma separated list of allowed origins"},
		"GPTENC_VOCAB":        {"GPTENC_VOCAB", Vocab, "Vocabulary directory, tokenizer.json file or encoding name (default \"gpt2\")"},
		"GPTENC_CACHE_SIZE":   {"GPTENC_CACHE_SIZE", CacheSize, "Maximum number of cached merge results (default 0 = unbounded)"},
		"GPTENC_NUM_PARALLEL": {"GPTENC_NUM_PARALLEL", NumParallel, "Maximum number of texts encoded in parallel by batch requests"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

var defaultAllowOrigins = []string{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
}

// Clean quotes and spaces from the value. The environment takes precedence
// over the config file.
func clean(key string) string {
	if v := strings.Trim(os.Getenv(key), "\"' "); v != "" {
		return v
	}

	return strings.Trim(GetConfigValue(key), "\"' ")
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	Debug, Trace = false, false
	if debug := clean("GPTENC_DEBUG"); debug != "" {
		if level, err := strconv.Atoi(debug); err == nil {
			Debug = level > 0
			Trace = level > 1
		} else if d, err := strconv.ParseBool(debug); err == nil {
			Debug = d
		} else {
			Debug = true
		}
	}

	Vocab = clean("GPTENC_VOCAB")
	if Vocab == "" {
		Vocab = "gpt2"
	}

	CacheSize = 0
	if size := clean("GPTENC_CACHE_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 0 {
			slog.Error("invalid setting, ignoring", "GPTENC_CACHE_SIZE", size, "error", err)
		} else {
			CacheSize = n
		}
	}

	NumParallel = runtime.NumCPU()
	if onp := clean("GPTENC_NUM_PARALLEL"); onp != "" {
		val, err := strconv.Atoi(onp)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "GPTENC_NUM_PARALLEL", onp, "error", err)
		} else {
			NumParallel = val
		}
	}

	AllowOrigins = nil
	if origins := clean("GPTENC_ORIGINS"); origins != "" {
		AllowOrigins = strings.Split(origins, ",")
	}
	for _, allowOrigin := range defaultAllowOrigins {
		AllowOrigins = append(AllowOrigins,
			fmt.Sprintf("http://%s", allowOrigin),
			fmt.Sprintf("https://%s", allowOrigin),
			fmt.Sprintf("http://%s:*", allowOrigin),
			fmt.Sprintf("https://%s:*", allowOrigin),
		)
	}
}

// LogLevel maps GPTENC_DEBUG to a slog level.
func LogLevel() slog.Level {
	switch {
	case Trace:
		return logutil.LevelTrace
	case Debug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Host returns the scheme and host the server listens on and the client
// connects to. Invalid ports fall back to the default.
func Host() *url.URL {
	u, err := getHost()
	if err != nil {
		slog.Warn("invalid GPTENC_HOST, using default", "error", err)
		return &url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", defaultPort)}
	}

	return u
}

func getHost() (*url.URL, error) {
	defaultHost := "127.0.0.1"

	s := clean("GPTENC_HOST")
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
	case scheme == "https":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = defaultHost, defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		return nil, ErrInvalidHostPort
	}

	if host == "" {
		host = defaultHost
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}, nil
}
