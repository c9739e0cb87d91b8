package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	config "github.com/glkeru/rewards/internal/config"
	services "github.com/glkeru/rewards/internal/services"
	"github.com/segmentio/kafka-go"
)

type KafkaTriggers struct {
	reader *kafka.Reader
}

func GetNewReader(topic string) (reader *KafkaTriggers, err error) {
	// config
	kafkaurl, err := config.Required("KAFKA_TRIGGERS_URL")
	if err != nil {
		return nil, err
	}
	kafkaport, err := config.Required("KAFKA_TRIGGERS_PORT")
	if err != nil {
		return nil, err
	}

	kafkaconfig := kafka.ReaderConfig{
		Brokers: []string{kafkaurl + ":" + kafkaport},
		Topic:   topic,
		GroupID: config.String("KAFKA_TRIGGERS_GROUP", "rewards_triggers"),
	}
	return &KafkaTriggers{kafka.NewReader(kafkaconfig)}, nil
}

func (k *KafkaTriggers) GetNewMessage(ctx context.Context) ([]byte, error) {
	msg, err := k.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Value, nil
}

func (k *KafkaTriggers) CloseReader() {
	k.reader.Close()
}

// Событие из топика: {"trigger_event": "login", "user_id": "...", "event_data": {...}}
type TriggerMessage struct {
	TriggerEvent string         `json:"trigger_event"`
	UserID       string         `json:"user_id"`
	Email        string         `json:"email"`
	EventData    map[string]any `json:"event_data"`
}

func ParseTrigger(body []byte) (services.EvaluateRequest, error) {
	msg := TriggerMessage{}
	if err := json.Unmarshal(body, &msg); err != nil {
		return services.EvaluateRequest{}, fmt.Errorf("invalid trigger message: %w", err)
	}
	student := msg.UserID
	if student == "" {
		student = msg.Email
	}
	if strings.TrimSpace(msg.TriggerEvent) == "" || student == "" {
		return services.EvaluateRequest{}, fmt.Errorf("invalid trigger message: trigger_event and user_id are required")
	}
	return services.EvaluateRequest{TriggerEvent: msg.TriggerEvent, Student: student, EventData: msg.EventData}, nil
}
