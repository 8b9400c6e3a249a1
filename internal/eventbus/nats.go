package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// StreamName is the JetStream stream holding every cropdoc event.
const StreamName = "CROPDOC"

// Bus owns a NATS connection and its JetStream context.
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// Connect dials NATS and makes sure the cropdoc stream exists.
func Connect(url string, logger *zap.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("cropdoc-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	b := &Bus{nc: nc, js: js, logger: logger}
	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	logger.Info("NATS and JetStream initialized", zap.String("stream", StreamName))
	return b, nil
}

func (b *Bus) ensureStream() error {
	_, err := b.js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("look up stream %s: %w", StreamName, err)
	}
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{"cropdoc.>"},
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// Connected reports whether the connection is currently up.
func (b *Bus) Connected() bool {
	return b.nc.IsConnected()
}

// Ping round-trips to the server.
func (b *Bus) Ping(ctx context.Context) error {
	if !b.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return b.nc.FlushWithContext(ctx)
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
}
