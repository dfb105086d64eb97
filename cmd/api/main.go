package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradeops/ledger/internal/config"
	"github.com/tradeops/ledger/internal/database"
	"github.com/tradeops/ledger/internal/handler"
	"github.com/tradeops/ledger/internal/locker"
	"github.com/tradeops/ledger/internal/logger"
	"github.com/tradeops/ledger/internal/metrics"
	"github.com/tradeops/ledger/internal/middleware"
	"github.com/tradeops/ledger/internal/repository"
	"github.com/tradeops/ledger/internal/service"
	"github.com/tradeops/ledger/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

//go:generate swag init -g cmd/api/main.go -o api/swagger

// @title           Trade Ledger API
// @version         1.0
// @description     FIFO inventory costing, sales allocation and monthly VAT settlement.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load("configs/.env")
	if err != nil {
		// Logger is not configured yet
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	db, err := database.NewConnection(cfg.Database, log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("database migration failed", zap.Error(err))
	}
	log.Info("database ready", zap.String("driver", cfg.Database.Driver))

	var lk locker.Locker = locker.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatal("redis connection failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer rdb.Close()
		lk = locker.NewRedisLocker(rdb, cfg.Redis.LockTTL, log.Named("locker"))
		log.Info("using redis locks", zap.String("addr", cfg.Redis.Addr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("ledger")

	wsHub := websocket.NewHub(log.Named("ws"), middleware.RoleAdmin, middleware.RoleAccountant, middleware.RoleClerk)
	go wsHub.Run(ctx)

	// Repository -> Service -> Handler
	txManager := repository.NewTransactionManager(db)
	productRepo := repository.NewProductRepository(db)
	lotRepo := repository.NewLotRepository(db)
	allocRepo := repository.NewAllocationRepository(db)
	ledgerRepo := repository.NewStockLedgerRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	balanceRepo := repository.NewClosingBalanceRepository(db)
	vatRepo := repository.NewVATPeriodRepository(db)
	treasuryRepo := repository.NewTreasuryRepository(db)
	taxRuleRepo := repository.NewTaxRuleRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditService := service.NewAuditService(auditRepo, log)
	ledgerService := service.NewStockLedgerService(ledgerRepo)
	inventoryService := service.NewInventoryService(productRepo, lotRepo, ledgerService, auditService, txManager, lk, m, wsHub, log)
	allocationService := service.NewAllocationService(productRepo, lotRepo, allocRepo, ledgerService, auditService, txManager, lk, m, wsHub, log)
	balanceService := service.NewClosingBalanceService(balanceRepo, auditService, txManager, lk, m, cfg.Ledger, log)
	vatService := service.NewVATPeriodService(vatRepo, saleRepo, allocRepo, taxRuleRepo, treasuryRepo, balanceService,
		auditService, txManager, lk, m, wsHub, cfg.Ledger, log)
	saleService := service.NewSaleService(saleRepo, taxRuleRepo, allocationService, vatService, auditService, cfg.Ledger, log)
	reportService := service.NewReportService(inventoryService, ledgerService, allocRepo, vatRepo, balanceRepo, treasuryRepo)
	taxService := service.NewTaxService(taxRuleRepo, auditService, cfg.Ledger)

	auth := middleware.NewAuth(cfg.App.JWTSecret)
	handlers := []interface{ RegisterRoutes(*gin.RouterGroup) }{
		handler.NewInventoryHandler(inventoryService, auth, log),
		handler.NewSaleHandler(saleService, allocationService, auth, log),
		handler.NewPeriodHandler(balanceService, vatService, auth, log),
		handler.NewReportHandler(reportService, auth, log),
		handler.NewTaxHandler(taxService, auth, log),
		handler.NewAuditHandler(auditService, auth, log),
	}

	gin.SetMode(cfg.App.GinMode)
	router := gin.New()
	router.Use(logger.GinMiddleware(log), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.App.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK", "ws_clients": wsHub.ClientCount()})
	})
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, auth.Secret())
	})

	for _, h := range handlers {
		h.RegisterRoutes(router.Group(""))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
