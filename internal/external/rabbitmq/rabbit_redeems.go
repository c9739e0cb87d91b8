package rewards

import (
	"context"
	"encoding/json"
	"fmt"

	config "github.com/glkeru/rewards/internal/config"
	interf "github.com/glkeru/rewards/internal/interfaces"
	services "github.com/glkeru/rewards/internal/services"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const queue = "redeems"
const queueout = "redeem_results"
const queuereloads = "reloads"

func dial() (*amqp.Connection, error) {
	// config
	rabbiturl, err := config.Required("RABBIT_URL")
	if err != nil {
		return nil, err
	}
	rabbitport, err := config.Required("RABBIT_PORT")
	if err != nil {
		return nil, err
	}
	rabbituser, err := config.Required("RABBIT_USER")
	if err != nil {
		return nil, err
	}
	rabbitpass, err := config.Required("RABBIT_PASSWORD")
	if err != nil {
		return nil, err
	}
	vhost := config.String("RABBIT_VHOST", "rewards")

	rabbitconn := "amqp://" + rabbituser + ":" + rabbitpass + "@" + rabbiturl + ":" + rabbitport + "/" + vhost
	return amqp.Dial(rabbitconn)
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

func publish(ctx context.Context, ch *amqp.Channel, name string, v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx,
		"",    // exchange
		name,  // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         msg,
		})
}

type RabbitConsumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	Msg   <-chan amqp.Delivery
	chout *amqp.Channel
}

func NewRabbitConsumer() (rabbit *RabbitConsumer, err error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	// канал для входящих
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err = declare(ch, queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// канал для исходящих
	chout, err := conn.Channel()
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err = declare(chout, queueout); err != nil {
		chout.Close()
		ch.Close()
		conn.Close()
		return nil, err
	}

	msg, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		chout.Close()
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitConsumer{conn, ch, msg, chout}, nil
}

func (r *RabbitConsumer) Close() {
	r.chout.Close()
	r.ch.Close()
	r.conn.Close()
}

// Заявка на получение награды из очереди
type RedeemMessage struct {
	RequestID string `json:"request_id"`
	services.RedeemRequest
}

func ParseRedeem(body []byte) (RedeemMessage, error) {
	msg := RedeemMessage{}
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("invalid redeem message: %w", err)
	}
	if msg.RequestID == "" {
		return msg, fmt.Errorf("invalid redeem message: request_id is required")
	}
	return msg, nil
}

// Результат обработки заявки
type RedeemResult struct {
	RequestID string `json:"request_id"`
	services.RedeemResponse
}

func (r *RabbitConsumer) Processed(ctx context.Context, result RedeemResult) error {
	return publish(ctx, r.chout, queueout, result)
}

// Обработка одной заявки. После вызова redeem сообщение подтверждается всегда:
// повторная доставка выполнила бы списание еще раз.
func HandleRedeem(ctx context.Context, msg amqp.Delivery,
	redeem func(context.Context, services.RedeemRequest) services.RedeemResponse,
	processed func(context.Context, RedeemResult) error,
	logger *zap.Logger) error {

	req, err := ParseRedeem(msg.Body)
	if err != nil {
		logger.Error(err.Error())
		_ = msg.Nack(false, false)
		return err
	}
	resp := redeem(ctx, req.RedeemRequest)
	if resp.Error != "" {
		logger.Warn("redeem rejected",
			zap.String("request", req.RequestID),
			zap.String("code", resp.Code),
			zap.String("error", resp.Error),
		)
	}
	err = processed(ctx, RedeemResult{RequestID: req.RequestID, RedeemResponse: resp})
	if ackErr := msg.Ack(false); ackErr != nil {
		logger.Error("ack", zap.String("request", req.RequestID), zap.Error(ackErr))
	}
	if err != nil {
		logger.Error("redeem result is not published",
			zap.String("request", req.RequestID),
			zap.Bool("success", resp.Success),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Отправка заявок на пополнение телефона
type RabbitReloads struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitReloads() (*RabbitReloads, error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err = declare(ch, queuereloads); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &RabbitReloads{conn, ch}, nil
}

func (r *RabbitReloads) DispatchReload(ctx context.Context, order interf.ReloadOrder) error {
	return publish(ctx, r.ch, queuereloads, order)
}

func (r *RabbitReloads) Close() {
	r.ch.Close()
	r.conn.Close()
}
