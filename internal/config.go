package internal

import (
	"fmt"
	"strconv"
)

// Country the camera cloud account is registered in.
const DefaultCountry = "nl"

const (
	DefaultGatewayURL = "ws://localhost:3000"
	DefaultMQTTTopic  = "doorbell"
	DefaultLogDir     = "logs"
)

// Configuration struct for app settings
type Config struct {
	Country    string `json:"country"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	BotAPIKey  string `json:"bot_api_key"`
	BotChatID  int64  `json:"bot_chat_id"`
	GatewayURL string `json:"gateway_url"`
	LogDir     string `json:"log_dir"`

	MQTTBroker   string `json:"mqtt_broker"`
	MQTTTopic    string `json:"mqtt_topic"`
	MQTTUsername string `json:"mqtt_username"`
	MQTTPassword string `json:"mqtt_password"`
}

// MissingEnvError is returned when a required environment variable is unset or empty.
type MissingEnvError struct {
	Key string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("Missing environment variable %s", e.Key)
}

// LoadConfig builds the Config from the given lookup function, usually os.Getenv.
func LoadConfig(getenv func(string) string) (Config, error) {
	required := func(key string) (string, error) {
		value := getenv(key)
		if value == "" {
			return "", &MissingEnvError{Key: key}
		}
		return value, nil
	}
	optional := func(key, fallback string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return fallback
	}

	username, err := required("username")
	if err != nil {
		return Config{}, err
	}
	password, err := required("password")
	if err != nil {
		return Config{}, err
	}
	botAPIKey, err := required("botApiKey")
	if err != nil {
		return Config{}, err
	}
	rawChatID, err := required("botChatId")
	if err != nil {
		return Config{}, err
	}
	chatID, err := strconv.ParseInt(rawChatID, 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid botChatId %q: %w", rawChatID, err)
	}

	return Config{
		Country:      DefaultCountry,
		Username:     username,
		Password:     password,
		BotAPIKey:    botAPIKey,
		BotChatID:    chatID,
		GatewayURL:   optional("gatewayUrl", DefaultGatewayURL),
		LogDir:       optional("logDir", DefaultLogDir),
		MQTTBroker:   getenv("mqttBroker"),
		MQTTTopic:    optional("mqttTopic", DefaultMQTTTopic),
		MQTTUsername: getenv("mqttUsername"),
		MQTTPassword: getenv("mqttPassword"),
	}, nil
}
