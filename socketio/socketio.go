package socketio

import (
	"context"
	"time"

	"chat-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io-go-redis/adapter"
	r_type "github.com/zishang520/socket.io-go-redis/types"
	"github.com/zishang520/socket.io/v2/socket"
)

// Init mounts the socket.io endpoint on app. Clients authenticate with an
// access token in the token query parameter; anonymous clients may connect
// but only ever see empty subscriptions.
func Init(app *fiber.App, rdb *redis.Client) *socket.Server {
	log.DEBUG = false

	options := socket.DefaultServerOptions()
	options.SetServeClient(false)
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(1000000)
	options.SetConnectTimeout(5 * time.Second)
	if rdb != nil {
		options.SetAdapter(&adapter.RedisAdapterBuilder{
			Redis: r_type.NewRedisClient(context.Background(), rdb),
			Opts:  &adapter.RedisAdapterOptions{},
		})
	}

	server := socket.NewServer(nil, options)

	server.Use(func(client *socket.Socket, next func(*socket.ExtendedError)) {
		if token, ok := client.Conn().Request().Query().Get("token"); ok {
			if claims, err := utils.CheckAndExtractTokenMetadata(token, "JWT_ACCESS_KEY"); err == nil && !claims.Otp {
				client.Join(socket.Room(claims.Id))
				client.SetData(claims)
			}
		}

		next(nil)
	})

	app.Get("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))
	app.Post("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))

	return server
}

// Principal returns the user id attached during the handshake.
func Principal(client *socket.Socket) string {
	if claims, ok := client.Data().(*utils.TokenMetadata); ok {
		return claims.Id
	}
	return ""
}

// Sink pushes subscription deltas to one client.
type Sink struct {
	client *socket.Socket
}

func NewSink(client *socket.Socket) *Sink {
	return &Sink{client: client}
}

func (s *Sink) Send(event string, payload any) error {
	return s.client.Emit(event, payload)
}

func (s *Sink) Close() {
	s.client.Disconnect(true)
}
