package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"node-reporter/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCClient sends every report of a run as one client stream and waits for
// the server's acknowledgement.
type GRPCClient struct {
	mu sync.Mutex

	logger    *slog.Logger
	addr      string
	tlsConfig *tls.Config
	token     string
	method    string
	timeout   time.Duration
	conn      *grpc.ClientConn
	now       func() time.Time
}

func NewGRPCClient(addr string, tlsCfg *tls.Config, token, method string, timeout time.Duration, logger *slog.Logger) *GRPCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GRPCClient{
		logger:    logger,
		addr:      addr,
		tlsConfig: tlsCfg,
		token:     token,
		method:    method,
		timeout:   timeout,
		now:       time.Now,
	}
}

func (c *GRPCClient) Publish(ctx context.Context, reports []model.NodeReport) error {
	if len(reports) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(); err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(c.decorateContext(ctx), c.timeout)
	defer cancel()
	s, err := c.conn.NewStream(sctx, &grpc.StreamDesc{ClientStreams: true}, c.method)
	if err != nil {
		return fmt.Errorf("%w: open report stream: %w", model.ErrSink, err)
	}

	at := c.now()
	for _, r := range reports {
		if err := s.SendMsg(NewReportFrame(r, at)); err != nil {
			if errors.Is(err, io.EOF) {
				// The server ended the stream; RecvMsg carries its status.
				err = s.RecvMsg(&PublishAck{})
			}
			return fmt.Errorf("%w: send report %s: %w", model.ErrSink, r.Record.Identity.DisplayName(), err)
		}
	}
	if err := s.CloseSend(); err != nil {
		return fmt.Errorf("%w: close report stream: %w", model.ErrSink, err)
	}
	var ack PublishAck
	if err := s.RecvMsg(&ack); err != nil {
		return fmt.Errorf("%w: await ack: %w", model.ErrSink, err)
	}
	if ack.Accepted != len(reports) {
		c.logger.Warn("grpc sink accepted fewer reports than sent", "sent", len(reports), "accepted", ack.Accepted)
	}
	c.logger.Info("reports published", "sink", "grpc", "addr", c.addr, "count", len(reports))
	return nil
}

func (c *GRPCClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	_ = ctx
	return nil
}

func (c *GRPCClient) ensureConnLocked() error {
	if c.conn != nil {
		return nil
	}
	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(
		c.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return fmt.Errorf("%w: grpc client %s: %w", model.ErrSink, c.addr, err)
	}
	c.conn = conn
	c.logger.Debug("grpc sink configured", "addr", c.addr, "method", c.method)
	return nil
}

func (c *GRPCClient) decorateContext(ctx context.Context) context.Context {
	if c.token != "" {
		return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	return ctx
}
