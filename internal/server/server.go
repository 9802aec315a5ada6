package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"moviebot/internal/feed"
	"moviebot/internal/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// LiveMessage ответ на GET корня и пути вебхука.
const LiveMessage = "🤖 Movie bot is live!"

const (
	findLimit       = 5
	maxBodyBytes    = 1 << 20
	defaultDispatch = 25 * time.Second
)

// UpdateHandler обработчик апдейтов (bot.Dispatcher).
type UpdateHandler interface {
	Handle(ctx context.Context, upd tgbotapi.Update)
}

// Finder поиск по ленте блога. nil отключает /api/find.
type Finder interface {
	Search(ctx context.Context, query string, limit int) ([]feed.Post, error)
}

type Options struct {
	Addr        string
	WebhookPath string
	// DispatchTimeout сколько живёт контекст обработки одного апдейта.
	DispatchTimeout time.Duration
}

type Server struct {
	engine  *gin.Engine
	srv     *http.Server
	handler UpdateHandler
	finder  Finder
	timeout time.Duration
	log     *zap.Logger
}

func New(h UpdateHandler, finder Finder, opts Options, log *zap.Logger) *Server {
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/webhook"
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = defaultDispatch
	}

	s := &Server{
		handler: h,
		finder:  finder,
		timeout: opts.DispatchTimeout,
		log:     log,
	}

	r := gin.New()
	r.Use(RequestID(), AccessLog(log), gin.Recovery(), metrics.Middleware())

	r.GET("/", s.live)
	if opts.WebhookPath != "/" {
		r.GET(opts.WebhookPath, s.live)
	}
	r.POST(opts.WebhookPath, s.webhook)
	r.GET("/api/find", s.find)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.engine = r
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      opts.DispatchTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler gin-движок, для тестов.
func (s *Server) Handler() http.Handler { return s.engine }

// Start блокирует до Shutdown. Штатная остановка ошибкой не считается.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) live(c *gin.Context) {
	c.String(http.StatusOK, LiveMessage)
}

// webhook обрабатывает апдейт синхронно и всегда отвечает 200, иначе
// Telegram будет повторять доставку.
func (s *Server) webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var upd tgbotapi.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		s.log.Warn("invalid update payload", zap.Error(err), zap.String("request_id", c.GetString(requestIDKey)))
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid update"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.timeout)
	defer cancel()
	s.handler.Handle(ctx, upd)

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) find(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}
	if s.finder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed not configured"})
		return
	}

	posts, err := s.finder.Search(c.Request.Context(), q, findLimit)
	if err != nil {
		s.log.Warn("feed search failed", zap.Error(err), zap.String("query", q))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed unavailable"})
		return
	}
	if len(posts) > findLimit {
		posts = posts[:findLimit]
	}
	if posts == nil {
		posts = []feed.Post{}
	}
	c.JSON(http.StatusOK, gin.H{"results": posts})
}
