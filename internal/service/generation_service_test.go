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

func seedLandingPage(t *testing.T, env *testEnv) {
	t.Helper()
	fields, err := json.Marshal([]model.CustomField{{Name: "hero_tagline", Label: "Hero tagline", Type: "text", Required: true}})
	require.NoError(t, err)
	require.NoError(t, env.db.Create(&model.ContentType{Slug: "landing", Name: "Landing Page", Fields: datatypes.JSON(fields)}).Error)
	require.NoError(t, env.contentRepo.Create(context.Background(), &model.Content{
		ContentType: "page", Title: "About Us", Slug: "about-us", Status: model.ContentStatusPublished, AuthorID: 1,
	}))
}

func TestPageGeneratorStartSynthesizesFirstMessage(t *testing.T) {
	env := newTestEnv(t)
	seedLandingPage(t, env)
	ctx := context.Background()
	env.provider.replies = []string{"What is the page about?", "Who is the audience?"}

	res, err := env.pages.Turn(ctx, 1, PageTurnRequest{ContentType: "landing", Step: StepGathering})
	require.NoError(t, err)
	assert.Equal(t, StepGathering, res.Step)
	assert.Equal(t, "What is the page about?", res.Response)
	assert.Nil(t, res.Generated)

	req := env.provider.lastRequest(t)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "I want to create a new Landing Page.", req.Messages[0].Content.PlainText())
	assert.Equal(t, testDefaultModel, req.Model)
	assert.Contains(t, req.System, "About Us (/about-us)")
	assert.Contains(t, req.System, "key: hero_tagline")
	assert.Contains(t, req.System, testReadyMarker)

	conv, err := env.convRepo.ResolveByID(ctx, res.ConversationID, 1)
	require.NoError(t, err)
	assert.Nil(t, conv.ContentID)
	assert.Nil(t, conv.ElementID)

	// 每次选择内容类型都开启新的会话
	again, err := env.pages.Turn(ctx, 1, PageTurnRequest{ContentType: "landing", Step: StepGathering})
	require.NoError(t, err)
	assert.NotEqual(t, res.ConversationID, again.ConversationID)
}

func TestPageGeneratorRejectsEmptyMessageMidConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv, err := env.conversations.StartNew(ctx, 1, model.NoScope)
	require.NoError(t, err)

	_, err = env.pages.Turn(ctx, 1, PageTurnRequest{ContentType: "page", Step: StepGathering, ConversationID: uintPtr(conv.ID), Message: "  "})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = env.pages.Turn(ctx, 1, PageTurnRequest{ContentType: "page", Step: "ready", Message: "hi"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = env.pages.Turn(ctx, 1, PageTurnRequest{ContentType: "page", Step: StepGathering, Message: "hi", EditorMode: "markdown"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	assert.Empty(t, env.provider.requests)
}

func TestPageGeneratorReadyMarkerIsStripped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	raw := "Great, I have everything I need.\nSummary: three sections.\n" + testReadyMarker
	env.provider.replies = []string{raw}

	res, err := env.pages.Turn(ctx, 1, PageTurnRequest{ContentType: "page", Step: StepGathering, Message: "That's all"})
	require.NoError(t, err)
	assert.Equal(t, StepReady, res.Step)
	assert.Equal(t, "Great, I have everything I need.\nSummary: three sections.", res.Response)
	assert.NotContains(t, res.Response, testReadyMarker)

	msgs, err := env.conversations.Messages(ctx, res.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, raw, msgs[1].Content)
}

func TestPageGeneratorGenerateSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	img := env.storeImage(t, "team", pngBytes)

	env.provider.replies = []string{
		"Nice photo. Anything else?\n" + testReadyMarker,
		"```json\n{\"title\":\"Our Services\",\"body\":\"<section>x</section>\"}\n```",
	}
	first, err := env.pages.Turn(ctx, 1, PageTurnRequest{
		ContentType: "page", Step: StepGathering, Message: "Use this team photo",
		Attachments: []model.Attachment{img, img},
	})
	require.NoError(t, err)
	assert.Equal(t, StepReady, first.Step)

	firstReq := env.provider.lastRequest(t)
	userContent := firstReq.Messages[len(firstReq.Messages)-1].Content
	assert.True(t, userContent.HasImages())
	assert.Contains(t, userContent.PlainText(), "Image 1: "+img.URL)

	res, err := env.pages.Turn(ctx, 1, PageTurnRequest{
		ContentType: "page", Step: StepGenerating, ConversationID: uintPtr(first.ConversationID),
	})
	require.NoError(t, err)
	assert.Equal(t, StepGenerated, res.Step)
	require.NotNil(t, res.Generated)
	assert.Equal(t, "Our Services", res.Generated.Title)
	assert.Equal(t, "our-services", res.Generated.Slug)
	assert.Equal(t, "<section>x</section>", res.Generated.Body)
	assert.Equal(t, first.ConversationID, res.ConversationID)

	req := env.provider.lastRequest(t)
	assert.Contains(t, req.System, "Image 1: "+img.URL)
	assert.NotContains(t, req.System, "Image 2:")
	assert.Equal(t, "Generate the page now.", req.Messages[len(req.Messages)-1].Content.PlainText())
	// 历史中带图片的用户消息重新组装为视觉块
	assert.True(t, req.Messages[0].Content.HasImages())
}

func TestPageGeneratorRejectsOtherUsersAttachments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	img := env.storeImage(t, "private", pngBytes)
	img.URL = "https://attacker.example/fake.png"

	_, err := env.pages.Turn(ctx, 2, PageTurnRequest{
		ContentType: "page", Step: StepGathering, Message: "use this", Attachments: []model.Attachment{img},
	})
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
	assert.Empty(t, env.provider.requests)

	convs, err := env.convRepo.ListByScope(ctx, 2, model.NoScope)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestPageGeneratorUsesStoredMediaURLs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	img := env.storeImage(t, "team", pngBytes)
	forged := img
	forged.URL = "https://attacker.example/fake.png"
	env.provider.replies = []string{"```json\n{\"title\":\"Team\",\"body\":\"<img>\"}\n```"}

	res, err := env.pages.Turn(ctx, 1, PageTurnRequest{
		ContentType: "page", Step: StepGenerating, Message: "go", Attachments: []model.Attachment{forged},
	})
	require.NoError(t, err)
	assert.Equal(t, StepGenerated, res.Step)

	req := env.provider.lastRequest(t)
	assert.Contains(t, req.System, "Image 1: "+img.URL)
	assert.NotContains(t, req.System, "attacker.example")
	assert.NotContains(t, req.Messages[len(req.Messages)-1].Content.PlainText(), "attacker.example")

	msgs, err := env.conversations.Messages(ctx, res.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []model.Attachment{img}, msgs[0].AttachmentList())
}

func TestPageGeneratorParseFailureIsPersisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.replies = []string{"Sure, here's an idea..."}

	res, err := env.pages.Turn(ctx, 1, PageTurnRequest{ContentType: "page", Step: StepGenerating, Message: "go"})
	require.NoError(t, err)
	assert.Equal(t, StepGenerationFailed, res.Step)
	assert.Nil(t, res.Generated)
	assert.Equal(t, "Sure, here's an idea...", res.Response)

	msgs, err := env.conversations.Messages(ctx, res.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "go", msgs[0].Content)
	assert.Equal(t, "Sure, here's an idea...", msgs[1].Content)
	assert.Equal(t, &model.Usage{InputTokens: 10, OutputTokens: 5}, msgs[1].Usage())
}

func TestPageGeneratorElementsModeDropsUnknownBlocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	slots, err := json.Marshal([]model.ElementSlot{{Key: "heading", Type: "text"}})
	require.NoError(t, err)
	require.NoError(t, env.db.Create(&model.Element{Name: "Hero", Slug: "hero", Slots: datatypes.JSON(slots)}).Error)
	tree := `{"type":"frame","children":[{"id":"hero-cta","type":"frame","children":[{"id":"hero-cta-text","type":"text","fontSize":18}]}]}`
	require.NoError(t, env.db.Create(&model.Component{Name: "CTA", Slug: "cta", Tree: datatypes.JSON(tree)}).Error)

	env.provider.replies = []string{`{"title":"Launch","elements":[` +
		`{"element":"hero","overrides":{"heading":"Hello","subtitle":"nope"}},` +
		`{"element":"ghost"},` +
		`{"element":"cta","overrides":{"hero-cta/hero-cta-text":"Buy"}}]}`}

	res, err := env.pages.Turn(ctx, 1, PageTurnRequest{ContentType: "page", Step: StepGenerating, Message: "go", EditorMode: EditorElements})
	require.NoError(t, err)
	require.Equal(t, StepGenerated, res.Step)
	require.Len(t, res.Generated.Elements, 2)
	assert.Equal(t, "hero", res.Generated.Elements[0].Element)
	assert.Equal(t, map[string]interface{}{"heading": "Hello"}, res.Generated.Elements[0].Overrides)
	assert.Equal(t, map[string]interface{}{"hero-cta/hero-cta-text": "Buy"}, res.Generated.Elements[1].Overrides)

	req := env.provider.lastRequest(t)
	assert.Contains(t, req.System, "hero-cta/hero-cta-text [text, body text]")
}

func TestUsageAccumulatesAcrossTurns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.usages = []llm.Usage{{InputTokens: 100, OutputTokens: 10}, {InputTokens: 150, OutputTokens: 20}, {InputTokens: 220, OutputTokens: 30}}

	var convID *uint
	var lastTotal int64
	wantTotals := []int64{100, 250, 470}
	for i, want := range wantTotals {
		res, err := env.pages.Turn(ctx, 1, PageTurnRequest{ContentType: "page", Step: StepGathering, Message: "turn", ConversationID: convID})
		require.NoError(t, err)
		convID = uintPtr(res.ConversationID)
		assert.Equal(t, want, res.Usage.TotalInputTokens, "turn %d", i)
		assert.GreaterOrEqual(t, res.Usage.TotalInputTokens, lastTotal)
		lastTotal = res.Usage.TotalInputTokens
	}

	conv, err := env.convRepo.ResolveByID(ctx, *convID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.UsageTotals{InputTokens: 470, OutputTokens: 60}, conv.Totals())

	require.Len(t, env.publisher.events, 3)
	for _, evt := range env.publisher.events {
		assert.Equal(t, events.SurfacePageGenerator, evt.Surface)
		assert.Equal(t, *convID, evt.ConversationID)
		assert.NotEmpty(t, evt.EventID)
	}
}

func TestUpstreamFailurePersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.err = &llm.ProviderError{Provider: "fake", StatusCode: 401, Type: "authentication_error", Message: "invalid x-api-key"}

	conv, err := env.conversations.StartNew(ctx, 1, model.NoScope)
	require.NoError(t, err)
	_, err = env.pages.Turn(ctx, 1, PageTurnRequest{ContentType: "page", Step: StepGathering, Message: "hi", ConversationID: uintPtr(conv.ID)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstream))
	assert.Contains(t, apperr.PublicMessage(err), "authentication_error")

	msgs, err := env.conversations.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, env.publisher.events)
}

func TestCreatePage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.contentRepo.Create(ctx, &model.Content{ContentType: "page", Title: "x", Slug: "our-services", Status: model.ContentStatusDraft, AuthorID: 1}))

	res, err := env.pages.CreatePage(ctx, 1, CreatePageRequest{
		Title: "Our Services", Body: "<section>x</section>", Status: model.ContentStatusPublished,
		CustomFields: map[string]interface{}{"hero_tagline": "Fast"},
	})
	require.NoError(t, err)
	assert.Equal(t, "our-services-2", res.Slug)
	assert.Equal(t, "/admin/content/"+jsonNumber(res.ContentID)+"/edit", res.EditURL)

	created, err := env.contentRepo.FindByID(ctx, res.ContentID)
	require.NoError(t, err)
	assert.Equal(t, model.ContentStatusPublished, created.Status)
	assert.Equal(t, "page", created.ContentType)
	assert.JSONEq(t, `{"hero_tagline":"Fast"}`, string(created.CustomFields))

	res, err = env.pages.CreatePage(ctx, 1, CreatePageRequest{
		Title: "!!!", Slug: "Spring Sale!", Elements: []GeneratedElement{{Element: "hero"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "spring-sale", res.Slug)
	created, err = env.contentRepo.FindByID(ctx, res.ContentID)
	require.NoError(t, err)
	assert.Equal(t, model.ContentStatusDraft, created.Status)
	assert.JSONEq(t, `[{"element":"hero"}]`, string(created.Elements))
}

func TestCreatePageValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []CreatePageRequest{
		{Title: "", Body: "x"},
		{Title: "T"},
		{Title: "T", Body: "x", Status: "archived"},
	}
	for _, c := range cases {
		_, err := env.pages.CreatePage(ctx, 1, c)
		assert.True(t, errors.Is(err, apperr.ErrValidation), "%+v", c)
	}
}

func TestStripReadyMarker(t *testing.T) {
	text, ready := StripReadyMarker("Let me ask one more thing.", testReadyMarker)
	assert.False(t, ready)
	assert.Equal(t, "Let me ask one more thing.", text)

	text, ready = StripReadyMarker("Ready!\n  "+testReadyMarker+"  \n", testReadyMarker)
	assert.True(t, ready)
	assert.Equal(t, "Ready!", text)

	text, ready = StripReadyMarker("Summary done.\n"+testReadyMarker+"\nThanks!", testReadyMarker)
	assert.True(t, ready)
	assert.Equal(t, "Summary done.\nThanks!", text)

	// 句中提到标记不算就绪
	inline := "I will add " + testReadyMarker + " when done. What is the audience?"
	text, ready = StripReadyMarker(inline, testReadyMarker)
	assert.False(t, ready)
	assert.Equal(t, inline, text)

	text, ready = StripReadyMarker("Ready! "+testReadyMarker, testReadyMarker)
	assert.False(t, ready)
	assert.Equal(t, "Ready! "+testReadyMarker, text)
}

func jsonNumber(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
