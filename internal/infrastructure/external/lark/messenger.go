package lark

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/port"
)

const (
	defaultReceiveIDType = "open_id"
	msgTypeText          = "text"
)

// MessageCreator is the part of the Lark IM API the messenger calls
type MessageCreator interface {
	Create(ctx context.Context, req *larkIm.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkIm.CreateMessageResp, error)
}

// Messenger implements port.MessageSender with Lark text messages
type Messenger struct {
	messages      MessageCreator
	receiveIDType string
	logger        *zap.Logger
}

var _ port.MessageSender = (*Messenger)(nil)

// NewMessenger creates a messenger on top of an SDK client
func NewMessenger(client *lark.Client, cfg Config, logger *zap.Logger) *Messenger {
	return NewMessengerWithCreator(client.Im.Message, cfg, logger)
}

// NewMessengerWithCreator creates a messenger on any MessageCreator
func NewMessengerWithCreator(messages MessageCreator, cfg Config, logger *zap.Logger) *Messenger {
	idType := cfg.ReceiveIDType
	if idType == "" {
		idType = defaultReceiveIDType
	}
	return &Messenger{
		messages:      messages,
		receiveIDType: idType,
		logger:        logger,
	}
}

// textMessageBody builds the im/v1 body of a text message for receiveID
func textMessageBody(receiveID, content string) (*larkIm.CreateMessageReqBody, error) {
	text, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message content: %w", err)
	}
	return larkIm.NewCreateMessageReqBodyBuilder().
		ReceiveId(receiveID).
		MsgType(msgTypeText).
		Content(string(text)).
		Build(), nil
}

// SendMessage sends a text message to a user
func (m *Messenger) SendMessage(ctx context.Context, userID string, content string) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}
	if content == "" {
		return fmt.Errorf("content cannot be empty")
	}

	body, err := textMessageBody(userID, content)
	if err != nil {
		return err
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(m.receiveIDType).
		Body(body).
		Build()

	resp, err := m.messages.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", userID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", userID))
	return nil
}

// LogSender stands in for Lark when notifications are disabled; it only logs
type LogSender struct {
	logger *zap.Logger
}

var _ port.MessageSender = (*LogSender)(nil)

// NewLogSender creates a LogSender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendMessage(ctx context.Context, userID string, content string) error {
	s.logger.Info("Notification (Lark disabled)",
		zap.String("receive_id", userID),
		zap.Int("content_length", len(content)))
	return nil
}
