package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nftmarket/internal/market"
	"nftmarket/internal/model"
)

// Marketplace is the service surface the HTTP layer exposes.
type Marketplace interface {
	CreateAccount(ctx context.Context) (model.Account, error)
	Account(ctx context.Context, address string) (model.Account, error)
	CreateItem(ctx context.Context, input market.CreateItemInput) (model.Item, error)
	Items(ctx context.Context) ([]model.Item, error)
	Item(ctx context.Context, id int64) (model.Item, error)
	Sell(ctx context.Context, itemID int64, price string) (model.Receipt, error)
	CancelSale(ctx context.Context, itemID int64) (model.Receipt, error)
	Buy(ctx context.Context, itemID int64, buyerAddress string) (model.Receipt, error)
	Transfer(ctx context.Context, itemID int64, toAddress string) (model.Receipt, error)
	TokenOwner(ctx context.Context, itemID int64) (string, error)
	Transaction(ctx context.Context, hash string) (model.Receipt, error)
}

// Server serves the marketplace HTTP API. Every response uses the
// model.Envelope shape so clients can branch on resultCode alone.
type Server struct {
	service Marketplace
	logger  *zap.Logger
	http    *http.Server
}

func NewServer(addr string, service Marketplace, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{service: service, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := engine.Group("/api")
	{
		v1.POST("/accounts", s.createAccount)
		v1.GET("/accounts/:address", s.getAccount)
		v1.GET("/items", s.listItems)
		v1.POST("/items", s.createItem)
		v1.GET("/items/:id", s.getItem)
		v1.POST("/items/:id/sale", s.sellItem)
		v1.DELETE("/items/:id/sale", s.cancelSale)
		v1.POST("/items/:id/purchase", s.buyItem)
		v1.POST("/items/:id/transfer", s.transferItem)
		v1.GET("/items/:id/owner", s.tokenOwner)
		v1.GET("/transactions/:hash", s.getTransaction)
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case c.Writer.Status() >= 500:
			s.logger.Error("http request", fields...)
		case c.Writer.Status() >= 400:
			s.logger.Warn("http request", fields...)
		default:
			s.logger.Info("http request", fields...)
		}
	}
}
