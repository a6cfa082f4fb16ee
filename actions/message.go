package actions

import (
	"context"
	"fmt"

	"github.com/liamcoop/automation/engine"
)

// SendMessageParams configures the send_message action. MsgType defaults to
// "text".
type SendMessageParams struct {
	Recipient string `json:"recipient"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
}

// SendMessageHandler delivers a notification through the messenger.
func SendMessageHandler(messenger Messenger) engine.ActionHandlerFunc {
	return func(ctx context.Context, params map[string]any, _ engine.ActionContext) (engine.ActionResult, error) {
		var p SendMessageParams
		if err := decodeParams(params, &p); err != nil {
			return engine.ActionResult{}, err
		}
		if p.Recipient == "" {
			return engine.ActionResult{}, fmt.Errorf("send_message requires recipient")
		}
		if p.Content == "" {
			return engine.ActionResult{}, fmt.Errorf("send_message requires content")
		}
		if p.MsgType == "" {
			p.MsgType = "text"
		}

		if err := messenger.SendMessage(ctx, p.Recipient, p.MsgType, p.Content); err != nil {
			return engine.ActionResult{}, fmt.Errorf("send message failed: %w", err)
		}
		return successResult(map[string]any{"recipient": p.Recipient}), nil
	}
}
