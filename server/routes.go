package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jmorganca/gptenc/api"
	"github.com/jmorganca/gptenc/bpe"
	"github.com/jmorganca/gptenc/envconfig"
	"github.com/jmorganca/gptenc/version"
	"github.com/jmorganca/gptenc/vocab"
)

type Server struct {
	addr  net.Addr
	model *vocab.Model
	enc   *bpe.Encoder
}

func (s *Server) TokenizeHandler(c *gin.Context) {
	var req api.TokenizeRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	ids, err := s.enc.WithSpecial(req.Special).Encode(req.Text)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.TokenizeResponse{Tokens: ids})
}

func (s *Server) TokenizeBatchHandler(c *gin.Context) {
	var req api.BatchTokenizeRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	batch, err := s.enc.WithSpecial(req.Special).EncodeBatch(c.Request.Context(), req.Texts)
	if err != nil {
		handleError(c, err)
		return
	}

	if batch == nil {
		batch = [][]uint32{}
	}

	c.JSON(http.StatusOK, api.BatchTokenizeResponse{Tokens: batch})
}

func (s *Server) DetokenizeHandler(c *gin.Context) {
	var req api.DetokenizeRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	b, err := s.enc.DecodeBytes(req.Tokens)
	if err != nil {
		handleError(c, err)
		return
	}

	// encoding/json replaces invalid UTF-8 in Text; Bytes stays exact
	c.JSON(http.StatusOK, api.DetokenizeResponse{Text: string(b), Bytes: b})
}

func (s *Server) CountHandler(c *gin.Context) {
	var req api.TokenizeRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	ids, err := s.enc.WithSpecial(req.Special).Encode(req.Text)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.CountResponse{Count: len(ids)})
}

func (s *Server) StatusHandler(c *gin.Context) {
	stats := s.enc.Cache().Stats()
	c.JSON(http.StatusOK, api.StatusResponse{
		Vocabulary: s.model.Name,
		Tokens:     s.model.Vocabulary.Len(),
		Merges:     s.model.Ranks.Len(),
		Special:    s.model.Vocabulary.Special(),
		Cache: api.CacheStats{
			Hits:    stats.Hits,
			Misses:  stats.Misses,
			Entries: stats.Entries,
		},
	})
}

func bindJSON(c *gin.Context, v any) error {
	err := c.ShouldBindJSON(v)
	switch {
	case errors.Is(err, io.EOF):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}

	return err
}

// handleError maps encoder errors to responses. Unknown tokens are the
// caller's fault; an incomplete vocabulary is the server's.
func handleError(c *gin.Context, err error) {
	var unknown *bpe.UnknownTokenError
	switch {
	case errors.As(err, &unknown):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, bpe.ErrVocabularyIncomplete):
		slog.Error("vocabulary cannot encode input", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case errors.Is(err, c.Request.Context().Err()):
		c.JSON(499, gin.H{"error": "request canceled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			u, err := uuid.NewV7()
			if err != nil {
				u = uuid.New()
			}
			id = u.String()
		}

		c.Set("requestID", id)
		c.Header("X-Request-Id", id)

		start := time.Now()
		c.Next()
		slog.Debug("request", "id", id, "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func (s *Server) GenerateRoutes() http.Handler {
	config := cors.DefaultConfig()
	config.AllowWildcard = true
	config.AllowBrowserExtensions = true
	config.AllowHeaders = []string{"Authorization", "Content-Type", "User-Agent", "Accept", "X-Requested-With", "X-Request-Id"}
	config.ExposeHeaders = []string{"X-Request-Id"}
	config.AllowOrigins = envconfig.AllowOrigins

	r := gin.Default()
	r.Use(
		cors.New(config),
		requestID(),
	)

	r.POST("/api/tokenize", s.TokenizeHandler)
	r.POST("/api/tokenize/batch", s.TokenizeBatchHandler)
	r.POST("/api/detokenize", s.DetokenizeHandler)
	r.POST("/api/count", s.CountHandler)
	r.GET("/api/status", s.StatusHandler)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		r.Handle(method, "/", func(c *gin.Context) {
			c.String(http.StatusOK, "gptenc is running")
		})

		r.Handle(method, "/api/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version})
		})
	}

	return r
}

// Serve encodes with model until ln is closed or the process is
// interrupted. Cache size and batch parallelism come from envconfig.
func Serve(ln net.Listener, model *vocab.Model) error {
	cache, err := bpe.NewCache(envconfig.CacheSize)
	if err != nil {
		return err
	}

	enc, err := model.NewEncoder(
		bpe.WithCache(cache),
		bpe.WithParallelism(envconfig.NumParallel),
	)
	if err != nil {
		return err
	}

	s := &Server{addr: ln.Addr(), model: model, enc: enc}
	srvr := &http.Server{
		Handler: s.GenerateRoutes(),
	}

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version), "vocabulary", model.Name, "tokens", model.Vocabulary.Len())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
	}()

	if err := srvr.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
