package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"corpusbot/internal/handler"
	"corpusbot/internal/telegram_bot"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	botAPI, err := telegram_bot.NewBotAPI(cfg, logger)
	if err != nil {
		return err
	}

	var bot *telegram_bot.Bot
	if botAPI != nil {
		bot = telegram_bot.NewBot(botAPI, cfg, telegram_bot.Deps{
			Pipeline:     a.pipeline,
			Modes:        a.modes,
			Corpus:       a.store,
			Importer:     a.importer,
			Collector:    a.collector,
			Interactions: a.interactions,
		}, logger)
	}

	deps := handler.Deps{
		Pipeline:     a.pipeline,
		Corpus:       a.store,
		Providers:    a.chain,
		Importer:     a.importer,
		Collector:    a.collector,
		Interactions: a.interactions,
	}
	if bot != nil && cfg.Telegram.Mode == "webhook" {
		deps.Webhook = bot
	}
	apiHandler := handler.NewHandler(deps, logger)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	apiHandler.RegisterRoutes(router)

	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("address", serverAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		if err := bot.Start(ctx); err != nil {
			logger.Error("Telegram bot stopped with error", zap.Error(err))
		}
	}()

	logger.Info("corpusbot is running",
		zap.String("port", cfg.Server.Port),
		zap.String("telegram_mode", cfg.Telegram.Mode),
		zap.Bool("telegram", bot != nil))

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	<-botDone
	if bot != nil {
		// Webhook updates may still be in flight.
		bot.Wait()
	}

	logger.Info("Server exited")
	return nil
}
