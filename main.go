package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-service/bot"
	"chat-service/config"
	"chat-service/controller"
	"chat-service/database"
	"chat-service/event"
	"chat-service/event/listener"
	"chat-service/pubsub"
	"chat-service/router"
	"chat-service/service"
	"chat-service/socketio"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func main() {
	log.SetPrefix("chat-service: ")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		AppName:               "chat-service",
	})

	rest.Use(cors.New())

	database.RedisConnect()
	database.PostgresConnect()
	enforcer := database.Casbin()

	event.RabbitMQConnect([]string{
		// Connect to queues
		event.QueueAPI,
		event.QueueEvents,
	})

	timeout := config.Duration("STORE_TIMEOUT", 5*time.Second)
	broker := pubsub.NewBroker(logger, config.Int("PUSH_QUEUE_SIZE", 256))
	chat := service.New(service.Options{
		DB:      database.Postgres,
		Broker:  broker,
		Events:  event.NewBus(event.QueueEvents, logger),
		Logger:  logger,
		Timeout: timeout,
	})

	system := bot.New(chat, bot.Config{
		Name:       config.String("BOT_NAME", "Bot"),
		Picture:    config.Config("BOT_PICTURE"),
		Expression: config.String("BOT_EXPRESSION", bot.DefaultExpression),
		Content:    config.Config("BOT_CONTENT"),
	}, logger)
	if _, err := system.Ensure(context.Background()); err != nil {
		log.Fatalf("failed to ensure bot user: %v", err)
	}
	if err := system.Start(); err != nil {
		log.Fatalf("failed to schedule bot: %v", err)
	}

	// Run "api" listener
	go listener.Api(&listener.API{
		Messages: chat,
		Bot:      system,
		Logger:   logger,
		Timeout:  timeout,
	})

	// Subscribe listener channel to "api" events
	event.RabbitMQSubscribe([]event.RabbitMQSubscribeListener{
		{
			Queue:   event.QueueAPI,
			Channel: listener.ApiChannel,
		},
	})

	// Init event logs
	event.Init()

	socket := socketio.Init(rest, database.Redis[database.RedisSocket])

	router.Rest(rest,
		&controller.Auth{
			DB:       database.Postgres,
			Tokens:   database.TokenStore{Client: database.Redis[database.RedisTokens]},
			Enforcer: enforcer,
		},
		&controller.Chat{Service: chat, Bot: system},
		enforcer,
	)
	router.Socket(socket, &router.Live{
		Service: chat,
		Broker:  broker,
		Logger:  logger,
		Timeout: timeout,
	})

	go func() {
		if err := rest.Listen(fmt.Sprintf(":%s", config.Config("SERVER_PORT"))); err != nil {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	system.Stop()
	socket.Close(nil)
	rest.Shutdown()
	event.RabbitMQChannel.Close()
	event.RabbitMQConnection.Close()
	event.CloseLogs()
	os.Exit(0)
}
