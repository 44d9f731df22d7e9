package feishu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeFeishu(t *testing.T, sendCode int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/open-apis/auth/v3/tenant_access_token"):
			_, _ = w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-test","expire":7200}`))
		case r.URL.Path == "/open-apis/im/v1/messages":
			assert.Equal(t, "chat_id", r.URL.Query().Get("receive_id_type"))
			var body struct {
				ReceiveID string `json:"receive_id"`
				MsgType   string `json:"msg_type"`
				Content   string `json:"content"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "oc_chat", body.ReceiveID)
			assert.Equal(t, "text", body.MsgType)
			assert.Contains(t, body.Content, "Good morning")
			if sendCode != 0 {
				_, _ = w.Write([]byte(`{"code":230002,"msg":"bot not in chat"}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":0,"msg":"success","data":{"message_id":"om_123"}}`))
		case r.URL.Path == "/open-apis/im/v1/chats/oc_chat":
			_, _ = w.Write([]byte(`{"code":0,"msg":"success","data":{"name":"bubu"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClient_SendText(t *testing.T) {
	srv := newFakeFeishu(t, 0)
	defer srv.Close()

	c := NewClient("cli_app", "secret", "oc_chat", zerolog.Nop(), lark.WithOpenBaseUrl(srv.URL))
	id, err := c.SendText(context.Background(), "+919876543210", "Good morning")
	require.NoError(t, err)
	assert.Equal(t, "om_123", id)
	assert.True(t, c.IsAvailable(context.Background()))
	assert.Equal(t, "feishu", c.ProviderName())
}

func TestClient_SendTextAPIError(t *testing.T) {
	srv := newFakeFeishu(t, 230002)
	defer srv.Close()

	c := NewClient("cli_app", "secret", "oc_chat", zerolog.Nop(), lark.WithOpenBaseUrl(srv.URL))
	_, err := c.SendText(context.Background(), "", "Good morning")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot not in chat")
}
