package webchat

import (
	"testing"

	"github.com/cortexhub/cortex-dispatch/internal/channel"
)

func TestAdapterName(t *testing.T) {
	adapter := NewWebChatAdapter(8080, nil)
	if adapter.Name() != "webchat" {
		t.Errorf("Expected webchat, got %s", adapter.Name())
	}
}

func TestIsEnabled(t *testing.T) {
	if NewWebChatAdapter(0, nil).IsEnabled() {
		t.Error("Adapter without port must be disabled")
	}
}

func TestSendWithoutConnection(t *testing.T) {
	adapter := NewWebChatAdapter(8080, nil)
	id, err := adapter.Send("nobody", &channel.Response{Content: "hi"})
	if err != nil {
		t.Errorf("Send to a gone connection must be a no-op, got %v", err)
	}
	if id == "" {
		t.Error("Send must still allocate a message id")
	}
}
