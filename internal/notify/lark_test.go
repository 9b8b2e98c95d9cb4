package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLark struct {
	mu       sync.Mutex
	bodies   []map[string]interface{}
	queries  []string
	rejected bool
}

func (f *fakeLark) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/open-apis/auth/v3/tenant_access_token/internal":
		_, _ = io.WriteString(w, `{"code":0,"msg":"ok","tenant_access_token":"t-test","expire":7200}`)
	case "/open-apis/im/v1/messages":
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.queries = append(f.queries, r.URL.RawQuery)
		rejected := f.rejected
		f.mu.Unlock()

		if rejected {
			_, _ = io.WriteString(w, `{"code":230002,"msg":"bot is not in the chat"}`)
			return
		}
		_, _ = io.WriteString(w, `{"code":0,"msg":"success","data":{"message_id":"om_1"}}`)
	default:
		http.NotFound(w, r)
	}
}

func TestLarkNotifierSend(t *testing.T) {
	fake := &fakeLark{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	n := NewLarkNotifier("cli_a", "secret", lark.WithOpenBaseUrl(srv.URL))
	require.NoError(t, n.Send(context.Background(), "oc_ops", "[100] ✅ **bot** is now **online**!"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.bodies, 1)
	assert.Contains(t, fake.queries[0], "receive_id_type=chat_id")
	assert.Equal(t, "oc_ops", fake.bodies[0]["receive_id"])
	assert.Equal(t, "text", fake.bodies[0]["msg_type"])
	assert.JSONEq(t, `{"text":"[100] ✅ **bot** is now **online**!"}`, fake.bodies[0]["content"].(string))
}

func TestLarkNotifierRejected(t *testing.T) {
	fake := &fakeLark{rejected: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	n := NewLarkNotifier("cli_a", "secret", lark.WithOpenBaseUrl(srv.URL))
	err := n.Send(context.Background(), "oc_ops", "hello")
	assert.ErrorContains(t, err, "230002")
}
