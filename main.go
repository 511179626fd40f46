package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/lokesh-katari/DOORBELL/internal"
	"github.com/lokesh-katari/DOORBELL/utils"
)

func main() {
	//loading the env file
	envErr := godotenv.Load()

	config, cfgErr := internal.LoadConfig(os.Getenv)
	logDir := config.LogDir
	if cfgErr != nil {
		logDir = internal.DefaultLogDir
	}

	logger, logFile, err := utils.CreateLogger(logDir)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	if envErr != nil {
		logger.Debugf("No .env file loaded, using process environment")
	}
	if cfgErr != nil {
		logger.Errorf("%v", cfgErr)
		if logFile != nil {
			logFile.Close()
		}
		os.Exit(1)
	}

	logger.Infof("Starting doorbell relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tgbotapi.SetLogger(logger.WithField("component", "telegram")); err != nil {
		logger.Warnf("Failed to set Telegram logger: %v", err)
	}
	bot, err := utils.NewTelegramBot(config.BotAPIKey, logger)
	if err != nil {
		logger.Errorf("Failed to start Telegram bot: %v", err)
		return
	}

	var mirror utils.EventPublisher
	if config.MQTTBroker != "" {
		m, err := utils.NewMQTTMirror(utils.MQTTConfig{
			BrokerURL:   config.MQTTBroker,
			ClientID:    "doorbell-" + config.Username,
			Username:    config.MQTTUsername,
			Password:    config.MQTTPassword,
			TopicPrefix: config.MQTTTopic,
		}, logger)
		if err != nil {
			logger.Warnf("MQTT mirror disabled: %v", err)
		} else {
			mirror = m
			defer m.Close()
		}
	}

	relay := utils.NewRelay(bot, config.BotChatID, logger, mirror)

	session := utils.NewGatewaySession(utils.GatewayConfig{
		URL:      config.GatewayURL,
		Country:  config.Country,
		Username: config.Username,
		Password: config.Password,
	}, logger)
	defer session.Close()

	doorbell, err := utils.InitSession(ctx, session, logger)
	if err != nil {
		// Chat keeps running without device events.
		logger.Errorf("Device session startup failed: %v", err)
	} else {
		relay.AttachHandlers(doorbell)
	}

	relay.AttachChatHandlers(bot)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bot.Listen(ctx)
	}()

	logger.Infof("Doorbell relay is running")

	<-ctx.Done()
	logger.Infof("Received termination signal. Shutting down...")
	wg.Wait()
	logger.Infof("Doorbell relay stopped")
}
