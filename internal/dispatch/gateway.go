package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cortexhub/cortex-dispatch/internal/channel"
)

// Gateway connects chat surface adapters to the pipeline. Each
// inbound message is handled in its own goroutine; streamed partial
// answers are delivered by editing the surface message in place.
type Gateway struct {
	pipeline *Pipeline
	adapters []channel.Adapter
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewGateway(pipeline *Pipeline, adapters []channel.Adapter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{pipeline: pipeline, adapters: adapters, logger: logger}
}

// Run starts every enabled adapter and consumes messages until the
// context is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	for _, adapter := range g.adapters {
		if !adapter.IsEnabled() {
			g.logger.Info("channel disabled", "channel", adapter.Name())
			continue
		}
		if err := adapter.Start(ctx); err != nil {
			return err
		}
		g.logger.Info("channel started", "channel", adapter.Name())

		g.wg.Add(1)
		go g.consume(ctx, adapter)
	}
	<-ctx.Done()
	for _, adapter := range g.adapters {
		if adapter.IsEnabled() {
			adapter.Stop()
		}
	}
	g.wg.Wait()
	return nil
}

func (g *Gateway) consume(ctx context.Context, adapter channel.Adapter) {
	defer g.wg.Done()
	for msg := range adapter.Incoming() {
		g.wg.Add(1)
		go func(msg *channel.Message) {
			defer g.wg.Done()
			g.handleMessage(ctx, adapter, msg)
		}(msg)
	}
}

func (g *Gateway) handleMessage(ctx context.Context, adapter channel.Adapter, msg *channel.Message) {
	var mu sync.Mutex
	messageID := ""
	finalSent := false

	deliver := func(text string, final bool) error {
		mu.Lock()
		defer mu.Unlock()
		if text == "" {
			return nil
		}
		resp := &channel.Response{Content: text, Final: final}
		if messageID == "" {
			id, err := adapter.Send(msg.ChatID, resp)
			if err != nil {
				return err
			}
			messageID = id
		} else if err := adapter.Update(msg.ChatID, messageID, resp); err != nil {
			g.logger.Warn("message edit failed",
				"channel", adapter.Name(), "message", messageID, "error", err)
		}
		if final {
			finalSent = true
		}
		return nil
	}

	reply := g.pipeline.Handle(ctx, Query{
		Text:     msg.Content,
		UserID:   msg.UserID,
		ChatID:   msg.ChatID,
		RootID:   msg.RootID,
		OnUpdate: deliver,
	})

	mu.Lock()
	done := finalSent
	mu.Unlock()
	if !done {
		if err := deliver(reply.Text, true); err != nil {
			g.logger.Error("reply delivery failed",
				"channel", adapter.Name(), "chat", msg.ChatID, "error", err)
		}
	}
}
