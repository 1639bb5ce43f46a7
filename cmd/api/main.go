package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kinkyharbor/harbor-api/internal/application/auth"
	"github.com/kinkyharbor/harbor-api/internal/config"
	"github.com/kinkyharbor/harbor-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/kinkyharbor/harbor-api/internal/infrastructure/jwt"
	"github.com/kinkyharbor/harbor-api/internal/infrastructure/smtp"
	"github.com/kinkyharbor/harbor-api/internal/infrastructure/sns"
	"github.com/kinkyharbor/harbor-api/internal/pkg/mail"
	transporthttp "github.com/kinkyharbor/harbor-api/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("JWT provider not available: %v", err)
	}

	// Outbound mail: direct SMTP delivery or an SNS topic with a
	// broker-side consumer, selected by MAIL_TRANSPORT.
	var sender auth.Sender
	switch cfg.MailTransport {
	case "sns":
		p, err := sns.NewPublisher(cfg)
		if err != nil {
			log.Fatalf("SNS publisher not available: %v", err)
		}
		sender = p
	default:
		sender = smtp.NewMailer(cfg)
	}

	deps := &transporthttp.Deps{
		UserRepo:         dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users, cfg.DynamoTables.Uniques),
		VerifTokenRepo:   dynamo.NewVerifTokenRepo(dynamoClient, cfg.DynamoTables.VerifTokens),
		RefreshTokenRepo: dynamo.NewRefreshTokenRepo(dynamoClient, cfg.DynamoTables.RefreshTokens),
		JWTProvider:      jwtProvider,
		Sender:           sender,
		Mail:             mail.NewBuilder(cfg.FrontendURL),
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
