package feishu

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/rs/zerolog"
)

// Client mirrors scheduled messages into a Feishu chat. The recipient
// number is kept as a header line since Feishu addresses chats, not phones.
type Client struct {
	larkCli *lark.Client
	chatID  string
	log     zerolog.Logger
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret, chatID string, log zerolog.Logger, opts ...lark.ClientOptionFunc) *Client {
	return &Client{
		larkCli: lark.NewClient(appID, appSecret, opts...),
		chatID:  chatID,
		log:     log.With().Str("provider", "feishu").Logger(),
	}
}

// SendText sends body to the configured chat and returns the message id
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	text := body
	if to != "" {
		text = "To " + to + "\n" + body
	}
	content, _ := json.Marshal(map[string]string{"text": text})

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(c.chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("send message error: %d %s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.MessageId == nil {
		return "", nil
	}

	c.log.Info().Str("chat_id", c.chatID).Str("message_id", *resp.Data.MessageId).Msg("message sent")
	return *resp.Data.MessageId, nil
}

// IsAvailable checks the chat can be read with the app credentials
func (c *Client) IsAvailable(ctx context.Context) bool {
	req := larkim.NewGetChatReqBuilder().ChatId(c.chatID).Build()
	resp, err := c.larkCli.Im.Chat.Get(ctx, req)
	if err != nil {
		c.log.Warn().Err(err).Msg("get chat failed")
		return false
	}
	return resp.Success()
}

func (c *Client) ProviderName() string { return "feishu" }
