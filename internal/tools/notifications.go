package tools

import (
	"context"
	"fmt"

	"github.com/gabrielauvo/autonomo/internal/domain"
	"github.com/gabrielauvo/autonomo/internal/tool"
)

var notificationChannels = map[string]bool{
	"email":    true,
	"whatsapp": true,
}

// SendNotification — "notifications.send". SEND: исходящее сообщение клиенту,
// подтверждается как любая мутация.
type SendNotification struct {
	base   *tool.Base
	sender NotificationSender
}

func NewSendNotification(base *tool.Base, sender NotificationSender) *SendNotification {
	return &SendNotification{base: base, sender: sender}
}

func (t *SendNotification) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "notifications.send",
		Description: "Sends a message to a client via email or whatsapp",
		Kind:        domain.KindSend,
		Params: map[string]any{
			"client_id": map[string]any{"type": "string", "required": true},
			"channel":   map[string]any{"type": "string", "enum": []string{"email", "whatsapp"}, "required": true},
			"message":   map[string]any{"type": "string", "required": true},
		},
	}
}

func (t *SendNotification) CheckPermission(ctx context.Context, cc tool.CallContext) bool {
	return cc.Scopes["notifications:send"]
}

func (t *SendNotification) Validate(params map[string]any, cc tool.CallContext) error {
	if _, err := tool.StringParam(params, "client_id"); err != nil {
		return err
	}
	channel, err := tool.StringParam(params, "channel")
	if err != nil {
		return err
	}
	if !notificationChannels[channel] {
		return fmt.Errorf("unsupported channel '%s'", channel)
	}
	message, err := tool.StringParam(params, "message")
	if err != nil {
		return err
	}
	if len(message) > 4000 {
		return fmt.Errorf("message is too long (max 4000 characters)")
	}
	return nil
}

func (t *SendNotification) Execute(ctx context.Context, params map[string]any, cc tool.CallContext) (*tool.Result, error) {
	clientID, err := tool.StringParam(params, "client_id")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}
	channel, err := tool.StringParam(params, "channel")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}
	message, err := tool.StringParam(params, "message")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}

	if err := t.base.VerifyOwnership(ctx, cc, domain.EntityClient, clientID); err != nil {
		return tool.Fail("%s", err.Error()), nil
	}

	if err := t.sender.Send(ctx, cc.UserID, clientID, channel, message); err != nil {
		return nil, fmt.Errorf("send notification: %w", err)
	}

	return tool.OK(map[string]any{
		"client_id": clientID,
		"channel":   channel,
		"delivered": true,
	}, tool.EntityRef{Kind: domain.EntityClient, ID: clientID}), nil
}
