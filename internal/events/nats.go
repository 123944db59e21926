package events

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
)

// KeyHeader carries the partition key on NATS messages.
const KeyHeader = "Nats-Msg-Key"

// NATSSink publishes events on a NATS subject named after the topic.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url. Reconnects are handled by the client.
func NewNATSSink(url, subject string, opts ...nats.Option) (*NATSSink, error) {
	if url == "" {
		return nil, errors.New("nats sink requires a url")
	}
	if subject == "" {
		subject = Topic
	}
	opts = append([]nats.Option{nats.Name("loginshield-events"), nats.MaxReconnects(-1)}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSSink{conn: nc, subject: subject}, nil
}

func (s *NATSSink) Send(ctx context.Context, key string, payload []byte) error {
	msg := nats.NewMsg(s.subject)
	msg.Header.Set(KeyHeader, key)
	msg.Data = payload
	if err := s.conn.PublishMsg(msg); err != nil {
		return err
	}
	return s.conn.FlushWithContext(ctx)
}

func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}
