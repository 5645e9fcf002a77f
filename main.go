package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coffee-bot/config"
	"coffee-bot/controllers"
	"coffee-bot/models"
	"coffee-bot/routes"
	"coffee-bot/services"
	"coffee-bot/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	config.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) > 1 && os.Args[1] == "token" {
		printToken(cfg)
		return
	}

	if !cfg.IsProduction() {
		log.Info().Str("env", cfg.Env).Msg("ENV is not production, nothing to do")
		return
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("coffee-bot stopped")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone: %w", err)
		}
		loc = l
	}

	var recorder services.DeliveryRecorder = services.NopRecorder{}
	if cfg.DBURL != "" {
		db, err := config.ConnectDB(cfg.DBURL)
		if err != nil {
			return err
		}
		if err := db.AutoMigrate(&models.DeliveryLog{}); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		recorder = services.NewGormRecorder(db)
	}

	pool, err := services.NewPool(cfg.MessageFile, cfg.QueueFile, nil)
	if err != nil {
		return err
	}

	sender := services.NewTwilioSender(cfg.AccountSID, cfg.AuthToken, cfg.Channel)
	coffee := services.NewCoffeeService(pool, sender, recorder, cfg.FromNumber, cfg.Channel, cfg.Contacts)

	scheduler := services.NewScheduler(services.SchedulerConfig{
		WindowStart: cfg.WindowStart,
		WindowEnd:   cfg.WindowEnd,
		Location:    loc,
		RecordPath:  cfg.ScheduleFile,
	}, func(ctx context.Context) {
		coffee.SendCoffeeMessage(ctx)
	})

	gin.SetMode(gin.ReleaseMode)
	r := routes.SetupRouter(cfg, &controllers.StatusController{
		Pool:      pool,
		Scheduler: scheduler,
		Coffee:    coffee,
		StartedAt: time.Now(),
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("status server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status server failed")
		}
	}()

	err = scheduler.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("status server shutdown")
	}
	return err
}

func printToken(cfg *config.Config) {
	subject := "operator"
	if len(os.Args) > 2 {
		subject = os.Args[2]
	}
	token, err := utils.GenerateToken(subject, cfg.JWTSecret, time.Duration(cfg.JWTExpiryHours)*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("generate token")
	}
	fmt.Println(token)
}
