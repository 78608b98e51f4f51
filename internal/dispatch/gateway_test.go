package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cortexhub/cortex-dispatch/internal/agent"
	"github.com/cortexhub/cortex-dispatch/internal/channel"
	"github.com/cortexhub/cortex-dispatch/internal/memory"
	"github.com/cortexhub/cortex-dispatch/internal/stream"
)

type fakeAdapter struct {
	mu       sync.Mutex
	incoming chan *channel.Message
	sends    []string
	updates  []string
	finals   int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{incoming: make(chan *channel.Message, 10)}
}

func (f *fakeAdapter) Start(ctx context.Context) error { return nil }
func (f *fakeAdapter) Stop() error                     { close(f.incoming); return nil }
func (f *fakeAdapter) Name() string                    { return "fake" }
func (f *fakeAdapter) IsEnabled() bool                 { return true }

func (f *fakeAdapter) Send(chatID string, resp *channel.Response) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, resp.Content)
	if resp.Final {
		f.finals++
	}
	return "m1", nil
}

func (f *fakeAdapter) Update(chatID, messageID string, resp *channel.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, resp.Content)
	if resp.Final {
		f.finals++
	}
	return nil
}

func (f *fakeAdapter) Incoming() <-chan *channel.Message { return f.incoming }

// streamingAgent drives the update sink like a real generation would.
type streamingAgent struct{}

func (streamingAgent) Respond(ctx context.Context, query string, scope memory.Scope, onUpdate stream.Sink) (agent.Answer, error) {
	_ = onUpdate("partial", false)
	_ = onUpdate("partial answer", false)
	_ = onUpdate("partial answer, complete", true)
	return agent.Answer{Text: "partial answer, complete"}, nil
}

func TestGatewayStreamsViaMessageEdits(t *testing.T) {
	f := newFixture(t)
	f.pipeline.agent = streamingAgent{}
	adapter := newFakeAdapter()
	gw := NewGateway(f.pipeline, []channel.Adapter{adapter}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gw.Run(ctx)
		close(done)
	}()

	adapter.incoming <- &channel.Message{
		ID: "in1", Channel: "fake", UserID: "u1", ChatID: "c1",
		Content: "Hello, how are you?",
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		adapter.mu.Lock()
		finals := adapter.finals
		adapter.mu.Unlock()
		if finals > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no final update delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sends) != 1 || adapter.sends[0] != "partial" {
		t.Errorf("First update must be a new message, got %v", adapter.sends)
	}
	if len(adapter.updates) < 1 {
		t.Fatal("Later updates must edit in place")
	}
	last := adapter.updates[len(adapter.updates)-1]
	if last != "partial answer, complete" {
		t.Errorf("Last edit must be the complete text, got %q", last)
	}
	if adapter.finals != 1 {
		t.Errorf("Final must be delivered exactly once, got %d", adapter.finals)
	}
}

func TestGatewayNonStreamingReplySentOnce(t *testing.T) {
	f := newFixture(t)
	adapter := newFakeAdapter()
	gw := NewGateway(f.pipeline, []channel.Adapter{adapter}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gw.Run(ctx)
		close(done)
	}()

	adapter.incoming <- &channel.Message{
		ID: "in2", Channel: "fake", UserID: "u1", ChatID: "c1",
		Content: "列出我的issues",
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		adapter.mu.Lock()
		sends := len(adapter.sends)
		adapter.mu.Unlock()
		if sends > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reply never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sends) != 1 || adapter.finals != 1 {
		t.Errorf("Expected one final send, got sends=%v finals=%d", adapter.sends, adapter.finals)
	}
}
