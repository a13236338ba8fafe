package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"time"

	"chat-service/config"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type EventChannelData struct {
	Action string
	Data   []byte
	Out    EventChannelOutData
}

// EventChannelOutData tells a listener whether to act on a replayed event
// and whether its own output should be logged.
type EventChannelOutData struct {
	Send bool
	Log  bool
}

type RabbitMQSubscribeListener struct {
	Queue   string
	Channel chan EventChannelData
}

const RabbitMQActionHeader string = "x-action"

const (
	// QueueAPI carries commands from other services.
	QueueAPI = "api"
	// QueueEvents carries the domain events of this service.
	QueueEvents = "events"
)

var (
	RabbitMQConnection *amqp.Connection
	RabbitMQChannel    *amqp.Channel
	RabbitMQQueue      = make(map[string]amqp.Queue)
	RabbitMQListeners  = make(map[string]chan EventChannelData)
)

func RabbitMQConnect(queues []string) {
	var err error
	RabbitMQConnection, err = amqp.Dial(fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		config.Config("RABBITMQ_USER"),
		config.Config("RABBITMQ_PASSWORD"),
		config.Config("RABBITMQ_HOST"),
		config.Config("RABBITMQ_PORT"),
	))
	if err != nil {
		panic("failed to connect to RabbitMQ")
	}
	log.Printf("connection opened to RabbitMQ server")

	RabbitMQChannel, err = RabbitMQConnection.Channel()
	if err != nil {
		panic("failed to open a RabbitMQ channel")
	}
	log.Printf("opened a RabbitMQ channel")

	for _, name := range queues {
		queue, err := RabbitMQChannel.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			panic(fmt.Sprintf("failed to declare RabbitMQ queue %s", name))
		}

		RabbitMQQueue[name] = queue
		log.Printf("success declare a RabbitMQ queue: %s", name)
	}

	OpenLogs()
}

func RabbitMQSubscribe(queues []RabbitMQSubscribeListener) {
	for _, queue := range queues {
		RabbitMQListeners[queue.Queue] = queue.Channel

		msgs, err := RabbitMQChannel.Consume(
			queue.Queue, // queue
			"",          // consumer
			false,       // auto-ack
			false,       // exclusive
			false,       // no-local
			false,       // no-wait
			nil,         // args
		)
		if err != nil {
			panic("failed to register a consumer")
		}
		log.Printf("success subscribe to RabbitMQ [%s] queue", queue.Queue)

		go consume(queue, msgs)
	}
}

func consume(queue RabbitMQSubscribeListener, msgs <-chan amqp.Delivery) {
	for msg := range msgs {
		action, ok := msg.Headers[RabbitMQActionHeader].(string)
		if !ok {
			slog.Warn("dropping message without action header", slog.String("queue", queue.Queue))
			msg.Nack(false, false)
			continue
		}

		if Logging() {
			InLog(EventLogData{
				Time:    time.Now().UnixMicro(),
				Service: queue.Queue,
				Action:  action,
				Data:    string(msg.Body),
			})
		}

		msg.Ack(false)

		queue.Channel <- EventChannelData{
			Action: action,
			Data:   msg.Body,
			Out: EventChannelOutData{
				Send: true,
				Log:  true,
			},
		}
	}
}

// Publish sends data to the queue named service, tagged with action.
func Publish(service string, action string, data []byte, logged bool) error {
	if RabbitMQChannel == nil {
		return errors.New("event: RabbitMQ channel is not open")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := RabbitMQChannel.PublishWithContext(
		ctx,
		"",      // exchange
		service, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				RabbitMQActionHeader: action,
			},
			Body: data,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "event.Publish %s/%s", service, action)
	}

	if logged && Logging() {
		OutLog(EventLogData{
			Time:    time.Now().UnixMicro(),
			Service: service,
			Action:  action,
			Data:    string(data),
		})
	}
	return nil
}

// Bus emits domain events of committed mutations. Delivery is best effort:
// failures are logged, never returned to the mutation that caused them.
type Bus struct {
	Queue  string
	Logger *slog.Logger
	// publish is swapped in tests
	publish func(service, action string, data []byte, logged bool) error
}

func NewBus(queue string, logger *slog.Logger) *Bus {
	return &Bus{Queue: queue, Logger: logger, publish: Publish}
}

func (b *Bus) Emit(action string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.Logger.Error("event encode failed", slog.String("action", action), slog.Any("error", err))
		return
	}
	if err := b.publish(b.Queue, action, data, true); err != nil {
		b.Logger.Warn("event publish failed", slog.String("action", action), slog.Any("error", err))
	}
}
