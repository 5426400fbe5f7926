package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

// NATSClient publishes analyses and actionable signals over NATS JetStream
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	prefix string

	subs   map[string]*nats.Subscription
	subsMu sync.Mutex
}

// NewNATSClient connects to NATS and makes sure the analysis stream exists
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	log := logger.WithField("component", "nats")

	opts := []nats.Option{
		nats.Name("auto-fib"),
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "autofib"
	}

	nc := &NATSClient{
		conn:   conn,
		js:     js,
		logger: log,
		prefix: prefix,
		subs:   make(map[string]*nats.Subscription),
	}

	if err := nc.initializeStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize stream: %w", err)
	}

	return nc, nil
}

// Close unsubscribes everything and closes the connection
func (nc *NATSClient) Close() error {
	nc.subsMu.Lock()
	for _, sub := range nc.subs {
		sub.Unsubscribe()
	}
	nc.subs = make(map[string]*nats.Subscription)
	nc.subsMu.Unlock()

	nc.conn.Close()
	return nil
}

// IsConnected checks if NATS is connected
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

func (nc *NATSClient) initializeStream() error {
	_, err := nc.js.AddStream(&nats.StreamConfig{
		Name:     StreamName(nc.prefix),
		Subjects: []string{nc.prefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create %s stream: %w", StreamName(nc.prefix), err)
	}
	return nil
}

// PublishAnalysis publishes every analysis and, for BUY/SELL, the signal subject too
func (nc *NATSClient) PublishAnalysis(a *models.Analysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	if _, err := nc.js.Publish(AnalysisSubject(nc.prefix, a.Symbol), data); err != nil {
		return fmt.Errorf("failed to publish analysis: %w", err)
	}

	if a.Signal == models.SignalBuy || a.Signal == models.SignalSell {
		if _, err := nc.js.Publish(SignalSubject(nc.prefix, a.Symbol), data); err != nil {
			return fmt.Errorf("failed to publish signal: %w", err)
		}
	}

	return nil
}

// SubscribeAnalyses delivers analyses published by any instance
func (nc *NATSClient) SubscribeAnalyses(handler func(*models.Analysis)) error {
	subject := AnalysisSubject(nc.prefix, "*")

	sub, err := nc.conn.Subscribe(subject, func(msg *nats.Msg) {
		var a models.Analysis
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			nc.logger.WithError(err).Error("Failed to unmarshal analysis")
			return
		}
		handler(&a)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to analyses: %w", err)
	}

	nc.subsMu.Lock()
	nc.subs[subject] = sub
	nc.subsMu.Unlock()

	return nil
}

// StreamName is the JetStream stream holding every subject under prefix
func StreamName(prefix string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(prefix))
}

// AnalysisSubject is <prefix>.analysis.<SYMBOL>
func AnalysisSubject(prefix, symbol string) string {
	return fmt.Sprintf("%s.analysis.%s", prefix, subjectToken(symbol))
}

// SignalSubject is <prefix>.signal.<SYMBOL>
func SignalSubject(prefix, symbol string) string {
	return fmt.Sprintf("%s.signal.%s", prefix, subjectToken(symbol))
}

// subjectToken upper-cases a symbol and strips characters NATS treats specially
func subjectToken(symbol string) string {
	if symbol == "*" || symbol == ">" {
		return symbol
	}
	return strings.ToUpper(strings.NewReplacer(".", "_", " ", "_", "*", "", ">", "").Replace(symbol))
}
