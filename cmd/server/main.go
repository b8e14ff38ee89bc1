package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/chartmaker/chartmaker/internal/config"
	"github.com/chartmaker/chartmaker/internal/delivery"
	"github.com/chartmaker/chartmaker/internal/events"
	"github.com/chartmaker/chartmaker/internal/handlers"
	"github.com/chartmaker/chartmaker/internal/middleware"
	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/chartmaker/chartmaker/internal/repository"
	"github.com/chartmaker/chartmaker/internal/repository/memory"
	"github.com/chartmaker/chartmaker/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type stores struct {
	accounts   service.AccountStore
	challenges service.ChallengeStore
	activities service.ActivityStore
	sessions   service.SessionStore
	close      func()
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Log.Level).Warn("Unknown log level, using info")
	}

	st, err := initStores(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}
	defer st.close()

	clock := service.SystemClock{}

	jwtService, err := service.NewJWTService(&cfg.JWT, clock, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ActivityTopic, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close activity publisher")
		}
	}()
	var activityPublisher service.ActivityPublisher
	if publisher != nil {
		activityPublisher = publisher
		logger.WithField("topic", cfg.Kafka.ActivityTopic).Info("Publishing activity to Kafka")
	}

	activityService := service.NewActivityService(st.activities, activityPublisher, clock, logger)
	otpService := service.NewOTPService(st.challenges, st.accounts, &cfg.OTP, clock, logger)

	authService := service.NewAuthService(service.AuthServiceDeps{
		Accounts: st.accounts,
		Sessions: st.sessions,
		OTP:      otpService,
		Delivery: initDelivery(cfg, logger),
		Tokens:   jwtService,
		Activity: activityService,
		Clock:    clock,
	}, &cfg.Auth, cfg.OTP.DeliveryTimeout, logger)

	validator, err := handlers.NewRequestValidator()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize request validator")
	}

	authHandlers := handlers.NewAuthHandlers(authService, validator, logger)
	authMiddleware := middleware.NewAuthMiddleware(authService, logger)
	router := handlers.NewRouter(authHandlers, authMiddleware, cfg.Server.AllowedOrigins, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":    cfg.Server.Port,
			"backend": cfg.Storage.Backend,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func initStores(cfg *config.Config, logger *logrus.Logger) (*stores, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		logger.Warn("Using in-memory storage; data is lost on restart")
		return &stores{
			accounts:   memory.NewAccountStore(),
			challenges: memory.NewChallengeStore(),
			activities: memory.NewActivityStore(),
			sessions:   memory.NewSessionStore(),
			close:      func() {},
		}, nil
	}

	dynamoClient, err := initDynamoDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	redisClient, err := initRedis(cfg, logger)
	if err != nil {
		return nil, err
	}

	table := cfg.DynamoDB.TableName
	return &stores{
		accounts:   repository.NewAccountRepository(dynamoClient, table, logger),
		challenges: repository.NewChallengeRepository(dynamoClient, table, logger),
		activities: repository.NewActivityRepository(dynamoClient, table, logger),
		sessions:   repository.NewSessionRepository(redisClient, logger),
		close: func() {
			if err := redisClient.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close redis client")
			}
		},
	}, nil
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func initRedis(cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Endpoint, err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}

// initDelivery registers a sender for each channel that has credentials.
// A channel without one fails at send time with a delivery error.
func initDelivery(cfg *config.Config, logger *logrus.Logger) *delivery.Gateway {
	gateway := delivery.NewGateway(cfg.OTP.TTL, logger)

	sms := delivery.NewTwilioClient(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.From, cfg.SMS.BaseURL)
	if sms.Configured() {
		gateway.Register(models.ChannelMobile, sms)
	} else {
		logger.Warn("Twilio credentials not set; SMS codes cannot be delivered")
	}

	if cfg.SMTP.Host != "" {
		mail, err := delivery.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
		if err != nil {
			logger.WithError(err).Warn("Invalid SMTP configuration; email codes cannot be delivered")
		} else {
			gateway.Register(models.ChannelEmail, mail)
		}
	} else {
		logger.Warn("EMAIL_HOST not set; email codes cannot be delivered")
	}

	return gateway
}
