package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCreator struct {
	calls int
	resp  *larkIm.CreateMessageResp
	err   error
}

func (f *fakeCreator) Create(ctx context.Context, req *larkIm.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkIm.CreateMessageResp, error) {
	f.calls++
	return f.resp, f.err
}

func okResponse(id string) *larkIm.CreateMessageResp {
	return &larkIm.CreateMessageResp{Data: &larkIm.CreateMessageRespData{MessageId: &id}}
}

func TestMessenger_SendMessage(t *testing.T) {
	creator := &fakeCreator{resp: okResponse("om_1")}
	m := NewMessengerWithCreator(creator, Config{}, zap.NewNop())

	content := "Approval required\n\nSubject: \"contract:42\""
	require.NoError(t, m.SendMessage(context.Background(), "ou_alice", content))
	assert.Equal(t, 1, creator.calls)
	assert.Equal(t, defaultReceiveIDType, m.receiveIDType)
}

func TestTextMessageBody(t *testing.T) {
	content := "Approval required\n\nSubject: \"contract:42\""
	body, err := textMessageBody("ou_alice", content)
	require.NoError(t, err)

	require.NotNil(t, body.ReceiveId)
	assert.Equal(t, "ou_alice", *body.ReceiveId)
	require.NotNil(t, body.MsgType)
	assert.Equal(t, msgTypeText, *body.MsgType)

	var decoded map[string]string
	require.NotNil(t, body.Content)
	require.NoError(t, json.Unmarshal([]byte(*body.Content), &decoded))
	assert.Equal(t, content, decoded["text"])
}

func TestMessenger_Errors(t *testing.T) {
	tests := []struct {
		name    string
		creator *fakeCreator
		userID  string
		content string
		wantErr string
	}{
		{"empty user", &fakeCreator{}, "", "hi", "userID cannot be empty"},
		{"empty content", &fakeCreator{}, "ou_1", "", "content cannot be empty"},
		{"transport", &fakeCreator{err: errors.New("timeout")}, "ou_1", "hi", "failed to send message"},
		{
			name:    "api failure",
			creator: &fakeCreator{resp: &larkIm.CreateMessageResp{CodeError: larkcore.CodeError{Code: 230002, Msg: "bot not in chat"}}},
			userID:  "ou_1",
			content: "hi",
			wantErr: "code=230002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMessengerWithCreator(tt.creator, Config{ReceiveIDType: "user_id"}, zap.NewNop())
			err := m.SendMessage(context.Background(), tt.userID, tt.content)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(zap.NewNop()).SendMessage(context.Background(), "ou_1", "hi"))
}
