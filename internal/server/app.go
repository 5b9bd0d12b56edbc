package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/olegin77/TUSD-sub001/pkg/logger"
)

// App wraps the HTTP server plus the background components that must be
// stopped with it.
type App struct {
	httpServer *http.Server
	stoppers   []func()
}

func New(httpPort string, router *gin.Engine) *App {
	return &App{
		httpServer: &http.Server{
			Addr:    ":" + httpPort,
			Handler: router,
		},
	}
}

// OnShutdown registers a stop hook, run in reverse order on shutdown.
func (a *App) OnShutdown(stop func()) {
	a.stoppers = append(a.stoppers, stop)
}

// Run 启动服务并阻塞，直到收到关闭信号
func (a *App) Run() {
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	for i := len(a.stoppers) - 1; i >= 0; i-- {
		a.stoppers[i]()
	}
	logger.Info("server exited properly")
}
