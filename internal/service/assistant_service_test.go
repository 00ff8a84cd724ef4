package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/pkg/events"
	"cms-assistant-go/pkg/llm"
)

func TestContentChatScopesConversationToContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := &model.Content{ContentType: "post", Title: "Spring menu", Slug: "spring-menu", Body: "<p>Asparagus</p>", Status: model.ContentStatusDraft, AuthorID: 1}
	require.NoError(t, env.contentRepo.Create(ctx, content))
	env.provider.replies = []string{"Try a shorter intro.", "Sure."}

	first, err := env.assistants.ContentChat(ctx, 1, ContentChatRequest{Message: "improve the intro", ContentID: uintPtr(content.ID)})
	require.NoError(t, err)
	assert.Equal(t, "Try a shorter intro.", first.Response)
	assert.Equal(t, 10, first.Usage.InputTokens)
	assert.Equal(t, int64(10), first.Usage.TotalInputTokens)
	assert.Equal(t, 1000, first.Usage.ContextWindow)
	assert.Equal(t, 1.5, first.Usage.ContextPercent)

	req := env.provider.lastRequest(t)
	assert.Contains(t, req.System, "Title: Spring menu")
	assert.Contains(t, req.System, "<p>Asparagus</p>")

	// 不带 conversation_id 时继续同一作用域的当前会话
	second, err := env.assistants.ContentChat(ctx, 1, ContentChatRequest{Message: "thanks", ContentID: uintPtr(content.ID)})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, int64(20), second.Usage.TotalInputTokens)

	req = env.provider.lastRequest(t)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, llm.RoleAssistant, req.Messages[1].Role)

	conv, err := env.convRepo.ResolveByID(ctx, first.ConversationID, 1)
	require.NoError(t, err)
	require.NotNil(t, conv.ContentID)
	assert.Equal(t, content.ID, *conv.ContentID)
	assert.Equal(t, events.SurfaceContentAssistant, env.publisher.events[0].Surface)
}

func TestContentChatValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.assistants.ContentChat(ctx, 1, ContentChatRequest{Message: "  "})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = env.assistants.ContentChat(ctx, 1, ContentChatRequest{Message: "hi", ContentID: uintPtr(404)})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Empty(t, env.provider.requests)
}

func TestElementChatUsesEnabledModelAndCatalogue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slots, err := json.Marshal([]model.ElementSlot{{Key: "label", Type: "text"}})
	require.NoError(t, err)
	button := &model.Element{Name: "Button", Slug: "button", HTML: "<button>Go</button>", CSS: ".btn{}"}
	card := &model.Element{Name: "Card", Slug: "card", Slots: datatypes.JSON(slots)}
	require.NoError(t, env.db.Create(button).Error)
	require.NoError(t, env.db.Create(card).Error)
	require.NoError(t, env.models.SetEnabled(ctx, []string{"big-model"}))

	res, err := env.assistants.ElementChat(ctx, 1, ElementChatRequest{
		Message: "make it rounder", ElementID: uintPtr(button.ID), Model: "big-model", CurrentCSS: ".btn{border-radius:0}",
	})
	require.NoError(t, err)
	assert.Equal(t, 200000, res.Usage.ContextWindow)

	req := env.provider.lastRequest(t)
	assert.Equal(t, "big-model", req.Model)
	assert.Contains(t, req.System, "<button>Go</button>")
	assert.Contains(t, req.System, ".btn{border-radius:0}")
	assert.Contains(t, req.System, "Card (element: card)")
	assert.NotContains(t, req.System, "Button (element: button)")

	conv, err := env.convRepo.ResolveByID(ctx, res.ConversationID, 1)
	require.NoError(t, err)
	require.NotNil(t, conv.ElementID)
	assert.Equal(t, button.ID, *conv.ElementID)

	_, err = env.assistants.ElementChat(ctx, 1, ElementChatRequest{Message: "again", ElementID: uintPtr(button.ID), Model: "not-enabled"})
	require.NoError(t, err)
	assert.Equal(t, testDefaultModel, env.provider.lastRequest(t).Model)
}
