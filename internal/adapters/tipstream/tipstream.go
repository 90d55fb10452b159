package tipstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satoshis-endgame/sentinel/pkg/logger"
)

// Listener subscribes to the mempool.space websocket block feed and invokes a
// callback on every new tip. Polling stays the source of truth; the callback
// only nudges the monitor into an early cycle.
type Listener struct {
	url     string
	onBlock func(height int64)
}

// New creates a tip listener. onBlock is called from the read goroutine.
func New(url string, onBlock func(height int64)) *Listener {
	return &Listener{url: url, onBlock: onBlock}
}

// Start runs the subscribe/read/reconnect loop until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) {
	go l.run(ctx)
}

func (l *Listener) run(ctx context.Context) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		err := l.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		logger.Warn("tip stream disconnected, reconnecting",
			zap.String("url", l.url),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

type tipMessage struct {
	Block *struct {
		Height int64 `json:"height"`
	} `json:"block"`
}

func (l *Listener) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, l.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	sub := map[string]interface{}{"action": "want", "data": []string{"blocks"}}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	logger.Info("tip stream connected", zap.String("url", l.url))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg tipMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Block != nil {
			logger.Debug("new block announced on tip stream",
				zap.Int64("height", msg.Block.Height),
			)
			l.onBlock(msg.Block.Height)
		}
	}
}
