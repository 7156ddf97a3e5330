package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"node-reporter/internal/config"
)

func NewSinkFromConfig(cfg config.Config, logger *slog.Logger) (Sink, error) {
	if cfg.SinkMode == config.SinkModeNone || cfg.SinkMode == "" {
		return nopSink{}, nil
	}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("sink tls: %w", err)
	}
	if cfg.SinkTLS && tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	switch cfg.SinkMode {
	case config.SinkModeGRPC:
		if !cfg.SinkTLS {
			tlsCfg = nil
		}
		return NewGRPCClient(cfg.SinkGRPCAddr, tlsCfg, cfg.SinkToken, cfg.SinkGRPCMethod, cfg.SinkTimeout, logger), nil
	case config.SinkModeWebSocket:
		return NewWebSocketClient(cfg.SinkWSURL, cfg.SinkToken, tlsCfg, cfg.SinkTimeout, logger), nil
	default:
		return nil, fmt.Errorf("unsupported sink mode %q", cfg.SinkMode)
	}
}
