package notify

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

const SinkLark = "lark"

// LarkNotifier posts plain-text messages to a Feishu/Lark chat.
type LarkNotifier struct {
	client *lark.Client
}

func NewLarkNotifier(appID, appSecret string, opts ...lark.ClientOptionFunc) *LarkNotifier {
	return &LarkNotifier{client: lark.NewClient(appID, appSecret, opts...)}
}

func (n *LarkNotifier) Send(ctx context.Context, chatID, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode lark message: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to send lark message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark rejected message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}
