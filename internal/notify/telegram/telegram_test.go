package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{ChatID: "1"}.Validate())
	assert.Error(t, Config{Token: "t"}.Validate())
	assert.NoError(t, Config{Token: "t", ChatID: "1"}.Validate())
}

func TestSend(t *testing.T) {
	var gotText, gotChat, gotPreview string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/sendMessage"), r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotText = r.FormValue("text")
		gotChat = r.FormValue("chat_id")
		gotPreview = r.FormValue("link_preview_options")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer server.Close()

	n, err := New(Config{Token: "123:abc", ChatID: "42", ServerURL: server.URL}, nil)
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), "✅ found"))
	assert.Equal(t, "✅ found", gotText)
	assert.Equal(t, "42", gotChat)
	assert.Contains(t, gotPreview, `"is_disabled":true`)
}

func TestSendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer server.Close()

	n, err := New(Config{Token: "123:abc", ChatID: "42", ServerURL: server.URL}, nil)
	require.NoError(t, err)
	assert.Error(t, n.Send(context.Background(), "x"))
}
