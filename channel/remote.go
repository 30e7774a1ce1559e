package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"flowcore.dev/engine/wire"
)

// RemoteConfig configures one remote transport connection, mirroring
// the teacher's coordinator.Config reconnect/backoff tunables.
type RemoteConfig struct {
	URL                string
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	PingInterval       time.Duration
	MaxFrameBytes      uint32
	Logger             *logrus.Logger
}

func DefaultRemoteConfig(url string) RemoteConfig {
	return RemoteConfig{
		URL:            url,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		PingInterval:   30 * time.Second,
		MaxFrameBytes:  wire.DefaultMaxFrameBytes,
	}
}

// RemoteTransport carries length-prefixed wire.Frame payloads over a
// persistent websocket connection, reconnecting with exponential
// backoff on failure -- the connection lifecycle is adapted directly
// from coordinator.Coordinator.connectionLoop/connect/runConnection,
// with the teacher's JSON control envelope replaced by this engine's
// binary wire frames.
type RemoteTransport struct {
	cfg RemoteConfig
	log *logrus.Entry

	connMu sync.RWMutex
	conn   *websocket.Conn

	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sendChan chan []byte
}

func NewRemoteTransport(cfg RemoteConfig) *RemoteTransport {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = wire.DefaultMaxFrameBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &RemoteTransport{
		cfg:      cfg,
		log:      cfg.Logger.WithField("component", "remote_transport").WithField("url", cfg.URL),
		limiter:  rate.NewLimiter(rate.Every(cfg.InitialBackoff), 1),
		ctx:      ctx,
		cancel:   cancel,
		sendChan: make(chan []byte, 256),
	}
	t.wg.Add(1)
	go t.connectionLoop()
	return t
}

func (t *RemoteTransport) connectionLoop() {
	defer t.wg.Done()
	backoff := t.cfg.InitialBackoff
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		if err := t.limiter.Wait(t.ctx); err != nil {
			return
		}
		if err := t.connect(); err != nil {
			t.log.WithError(err).Warn("connect failed, backing off")
			select {
			case <-time.After(backoff):
			case <-t.ctx.Done():
				return
			}
			backoff *= 2
			if backoff > t.cfg.MaxBackoff {
				backoff = t.cfg.MaxBackoff
			}
			continue
		}
		backoff = t.cfg.InitialBackoff
		t.runConnection()
	}
}

func (t *RemoteTransport) connect() error {
	conn, _, err := websocket.DefaultDialer.DialContext(t.ctx, t.cfg.URL, nil)
	if err != nil {
		return err
	}
	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	return nil
}

func (t *RemoteTransport) runConnection() {
	connCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.senderLoop(connCtx)
	}()
	go func() {
		defer wg.Done()
		t.pingLoop(connCtx)
	}()
	t.readLoop(connCtx)
	cancel()
	wg.Wait()
}

func (t *RemoteTransport) readLoop(ctx context.Context) {
	for {
		t.connMu.RLock()
		conn := t.conn
		t.connMu.RUnlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.log.WithError(err).Debug("read failed, closing connection")
			return
		}
		if _, _, err := wire.DecodeFrame(data, t.cfg.MaxFrameBytes); err != nil {
			t.log.WithError(err).Warn("malformed frame, dropping")
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (t *RemoteTransport) senderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-t.sendChan:
			t.connMu.RLock()
			conn := t.conn
			t.connMu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				t.log.WithError(err).Debug("write failed")
				return
			}
		}
	}
}

func (t *RemoteTransport) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.connMu.RLock()
			conn := t.conn
			t.connMu.RUnlock()
			if conn == nil {
				return
			}
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func (t *RemoteTransport) Send(env Envelope) error {
	payload := env.Raw
	if payload == nil {
		payload = wire.FrameDelta(env.Delta)
	}
	select {
	case t.sendChan <- payload:
		return nil
	default:
		return fmt.Errorf("remote transport send buffer full")
	}
}

func (t *RemoteTransport) Close() error {
	t.cancel()
	t.wg.Wait()
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
