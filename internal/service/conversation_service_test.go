package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/events"
	"cms-assistant-go/pkg/llm"
)

func TestResolveFallsBackWhenConversationBelongsToAnotherUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	foreign, err := env.convRepo.Create(ctx, 2, model.NoScope)
	require.NoError(t, err)
	_, err = env.convRepo.AppendMessage(ctx, foreign.ID, repository.NewMessage{Role: model.RoleUser, Content: "secret plan"})
	require.NoError(t, err)

	conv, err := env.conversations.Resolve(ctx, 1, uintPtr(foreign.ID), model.NoScope)
	require.NoError(t, err)
	assert.Equal(t, uint(1), conv.UserID)
	assert.NotEqual(t, foreign.ID, conv.ID)

	msgs, err := env.conversations.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// 不存在的 ID 同样回退，并且回退结果是稳定的
	again, err := env.conversations.Resolve(ctx, 1, uintPtr(999), model.NoScope)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
}

func TestResolveUsesOwnedConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owned, err := env.convRepo.Create(ctx, 1, model.ContentScope(3))
	require.NoError(t, err)
	_, err = env.convRepo.Create(ctx, 1, model.ContentScope(3))
	require.NoError(t, err)

	conv, err := env.conversations.Resolve(ctx, 1, uintPtr(owned.ID), model.ContentScope(3))
	require.NoError(t, err)
	assert.Equal(t, owned.ID, conv.ID)
}

func TestRecordExchangeSetsAutomaticTitleOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, err := env.conversations.StartNew(ctx, 1, model.NoScope)
	require.NoError(t, err)

	long := strings.Repeat("a", 70) + "\nignored"
	updated, err := env.conversations.RecordExchange(ctx, conv,
		repository.NewMessage{Content: long},
		repository.NewMessage{Content: "reply", Usage: &model.Usage{InputTokens: 3, OutputTokens: 4}},
	)
	require.NoError(t, err)
	require.NotNil(t, updated.Title)
	assert.Equal(t, strings.Repeat("a", 60), *updated.Title)
	assert.Equal(t, model.UsageTotals{InputTokens: 3, OutputTokens: 4}, updated.Totals())

	updated, err = env.conversations.RecordExchange(ctx, updated,
		repository.NewMessage{Content: "second question"},
		repository.NewMessage{Content: "reply"},
	)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 60), *updated.Title)

	msgs, err := env.conversations.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestRename(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, err := env.conversations.StartNew(ctx, 1, model.NoScope)
	require.NoError(t, err)

	require.NoError(t, env.conversations.Rename(ctx, 1, conv.ID, "  Homepage refresh  "))
	got, err := env.convRepo.ResolveByID(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Homepage refresh", *got.Title)

	err = env.conversations.Rename(ctx, 1, conv.ID, "   ")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	err = env.conversations.Rename(ctx, 2, conv.ID, "stolen")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestHistoryReturnsNewestFirstWithMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.conversations.StartNew(ctx, 1, model.ElementScope(7))
	require.NoError(t, err)
	second, err := env.conversations.StartNew(ctx, 1, model.ElementScope(7))
	require.NoError(t, err)
	_, err = env.conversations.RecordExchange(ctx, first,
		repository.NewMessage{Content: "make the button blue"},
		repository.NewMessage{Content: "done", Usage: &model.Usage{InputTokens: 1, OutputTokens: 2}},
	)
	require.NoError(t, err)

	views, err := env.conversations.History(ctx, 1, model.ElementScope(7))
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, first.ID, views[0].ID)
	assert.Len(t, views[0].Messages, 2)
	assert.Equal(t, int64(1), views[0].Usage.InputTokens)
	assert.Equal(t, second.ID, views[1].ID)
	assert.Empty(t, views[1].Messages)

	other, err := env.conversations.History(ctx, 2, model.ElementScope(7))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCompactReplacesOlderMessagesWithSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, err := env.conversations.StartNew(ctx, 1, model.NoScope)
	require.NoError(t, err)

	img := env.storeImage(t, "hero", pngBytes)
	conv, err = env.conversations.RecordExchange(ctx, conv,
		repository.NewMessage{Content: "here is our hero photo", Attachments: []model.Attachment{img}},
		repository.NewMessage{Content: strings.Repeat("long answer ", 40), Usage: &model.Usage{InputTokens: 100, OutputTokens: 50}},
	)
	require.NoError(t, err)
	conv, err = env.conversations.RecordExchange(ctx, conv,
		repository.NewMessage{Content: "what about the footer"},
		repository.NewMessage{Content: "footer ideas", Usage: &model.Usage{InputTokens: 200, OutputTokens: 20}},
	)
	require.NoError(t, err)

	env.provider.replies = []string{"- hero photo chosen"}
	env.provider.usages = []llm.Usage{{InputTokens: 40, OutputTokens: 8}}
	res, err := env.conversations.Compact(ctx, 1, conv.ID)
	require.NoError(t, err)
	assert.True(t, res.Compacted)
	assert.Greater(t, res.OldTokens, res.NewTokens)
	assert.Equal(t, llm.Usage{InputTokens: 40, OutputTokens: 8}, res.SummaryUsage)

	require.Len(t, res.Messages, 3)
	assert.True(t, res.Messages[0].IsSummary)
	assert.Contains(t, res.Messages[0].Content, "- hero photo chosen")
	assert.Equal(t, []model.Attachment{img}, res.Messages[0].Attachments)
	assert.Equal(t, "what about the footer", res.Messages[1].Content)
	assert.Equal(t, "footer ideas", res.Messages[2].Content)

	// 压缩不改写累计用量
	after, err := env.convRepo.ResolveByID(ctx, conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.UsageTotals{InputTokens: 300, OutputTokens: 70}, after.Totals())

	req := env.provider.lastRequest(t)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content.PlainText(), "here is our hero photo")
	assert.NotContains(t, req.Messages[0].Content.PlainText(), "footer ideas")

	require.Len(t, env.publisher.events, 1)
	assert.Equal(t, events.SurfaceCompaction, env.publisher.events[0].Surface)

	// 压缩后图片 URL 集合不变
	msgs, err := env.conversations.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{img.URL}, CollectImageURLs(msgs, nil))
}

func TestCompactIsNoopForShortConversations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, err := env.conversations.StartNew(ctx, 1, model.NoScope)
	require.NoError(t, err)
	_, err = env.conversations.RecordExchange(ctx, conv,
		repository.NewMessage{Content: "hello"},
		repository.NewMessage{Content: "hi"},
	)
	require.NoError(t, err)

	res, err := env.conversations.Compact(ctx, 1, conv.ID)
	require.NoError(t, err)
	assert.False(t, res.Compacted)
	assert.Equal(t, res.OldTokens, res.NewTokens)
	assert.Len(t, res.Messages, 2)
	assert.Empty(t, env.provider.requests)
}

func TestCompactProviderFailureLeavesLogUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, err := env.conversations.StartNew(ctx, 1, model.NoScope)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		conv, err = env.conversations.RecordExchange(ctx, conv,
			repository.NewMessage{Content: "question"},
			repository.NewMessage{Content: "answer"},
		)
		require.NoError(t, err)
	}

	env.provider.err = &llm.ProviderError{Provider: "fake", StatusCode: 529, Type: "overloaded_error", Message: "Overloaded"}
	_, err = env.conversations.Compact(ctx, 1, conv.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstream))

	msgs, err := env.conversations.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}
