package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cms-assistant-go/internal/config"
)

func newTestAnthropic(t *testing.T, h http.HandlerFunc) Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewAnthropicProvider(config.AnthropicConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		DefaultModel: "claude-test",
		MaxTokens:    1024,
	}, 10*time.Second)
}

func TestAnthropicSendMessage(t *testing.T) {
	var got map[string]interface{}
	p := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"claude-test","content":[{"type":"text","text":"hello"}],"usage":{"input_tokens":12,"output_tokens":3}}`))
	})

	reply, err := p.SendMessage(context.Background(), Request{
		System: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: Text("summary of earlier turns")},
			{Role: RoleUser, Content: Blocks(ImageBlock("image/png", "aGk="), TextBlock("what is this?"))},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", reply.Content)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 3}, reply.Usage)

	assert.Equal(t, "claude-test", got["model"])
	assert.Equal(t, "be brief", got["system"])
	assert.EqualValues(t, 1024, got["max_tokens"])

	// 相邻的两条 user 消息被合并为一条
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 1)
	blocks := msgs[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, blocks, 3)
	assert.Equal(t, "text", blocks[0].(map[string]interface{})["type"])
	img := blocks[1].(map[string]interface{})
	assert.Equal(t, "image", img["type"])
	source := img["source"].(map[string]interface{})
	assert.Equal(t, "base64", source["type"])
	assert.Equal(t, "image/png", source["media_type"])
	assert.Equal(t, "aGk=", source["data"])
}

func TestAnthropicProviderErrorIsPreserved(t *testing.T) {
	p := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	_, err := p.SendMessage(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: Text("hi")}}})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "rate_limit_error", pe.Type)
	assert.Equal(t, "slow down", pe.Message)
}

func TestAnthropicMissingContent(t *testing.T) {
	p := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"usage":{"input_tokens":1,"output_tokens":0}}`))
	})

	_, err := p.SendMessage(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: Text("hi")}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnthropicMissingCredentials(t *testing.T) {
	p := NewAnthropicProvider(config.AnthropicConfig{BaseURL: "http://127.0.0.1:0"}, time.Second)

	_, err := p.SendMessage(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMissingCredentials)
	_, err = p.ListModels(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestAnthropicListModelsPaginates(t *testing.T) {
	calls := 0
	p := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v1/models", r.URL.Path)
		switch r.URL.Query().Get("after_id") {
		case "":
			_, _ = w.Write([]byte(`{"data":[{"id":"m-b","display_name":"beta"},{"id":"m-c","display_name":"Gamma"}],"has_more":true,"last_id":"m-c"}`))
		case "m-c":
			_, _ = w.Write([]byte(`{"data":[{"id":"m-a","display_name":"Alpha"}],"has_more":false,"last_id":"m-a"}`))
		default:
			t.Errorf("unexpected after_id %q", r.URL.Query().Get("after_id"))
		}
	})

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, models, 3)
	assert.Equal(t, []string{"m-a", "m-b", "m-c"}, []string{models[0].ID, models[1].ID, models[2].ID})
	assert.Equal(t, "anthropic", models[0].Provider)
}

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, 10*time.Second, ClampTimeout(0))
	assert.Equal(t, 120*time.Second, ClampTimeout(120))
	assert.Equal(t, 300*time.Second, ClampTimeout(3600))
}

func TestContentJSON(t *testing.T) {
	b, err := json.Marshal(Text("plain"))
	require.NoError(t, err)
	assert.JSONEq(t, `"plain"`, string(b))

	var c Content
	require.NoError(t, json.Unmarshal([]byte(`[{"type":"text","text":"a"},{"type":"image","mime_type":"image/png","data":"eA=="}]`), &c))
	assert.True(t, c.HasImages())
	assert.Equal(t, "a", c.PlainText())
}
