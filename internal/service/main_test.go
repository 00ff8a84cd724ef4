package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cms-assistant-go/internal/config"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/events"
	"cms-assistant-go/pkg/llm"
	"cms-assistant-go/pkg/storage"
)

const (
	testDefaultModel = "claude-test"
	testReadyMarker  = "[[READY_TO_GENERATE]]"
)

// 1x1 透明 PNG
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func testAIConfig() config.AIConfig {
	return config.AIConfig{
		ReadyMarker:          testReadyMarker,
		DefaultContextWindow: 1000,
		ContextWindows:       map[string]int{"big-model": 200000},
		MaxImageBytes:        1024,
		CompactKeepLast:      2,
		PublishedPagesLimit:  10,
		AdminBaseURL:         "/admin",
		MediaBaseURL:         "/api/v1/ai/media",
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.Conversation{}, &model.Message{},
		&model.Content{}, &model.ContentType{}, &model.Element{}, &model.Component{},
		&model.Media{}, &model.UsageRecord{},
	))
	return db
}

// fakeProvider 按顺序返回预置的回复，并记录收到的请求。
type fakeProvider struct {
	mu       sync.Mutex
	replies  []string
	usages   []llm.Usage
	err      error
	models   []llm.ModelInfo
	requests []llm.Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) SendMessage(_ context.Context, req llm.Request) (*llm.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	reply := &llm.Reply{Content: "ok", Model: req.Model, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}
	if len(p.replies) > 0 {
		reply.Content, p.replies = p.replies[0], p.replies[1:]
	}
	if len(p.usages) > 0 {
		reply.Usage, p.usages = p.usages[0], p.usages[1:]
	}
	return reply, nil
}

func (p *fakeProvider) ListModels(context.Context) ([]llm.ModelInfo, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.models, nil
}

func (p *fakeProvider) lastRequest(t *testing.T) llm.Request {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.requests)
	return p.requests[len(p.requests)-1]
}

// memStore 是内存中的 FileStore。
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

func (s *memStore) Open(_ context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), &storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: s.types[key]}, nil
}

func (s *memStore) ReadAll(ctx context.Context, key string, limit int64) ([]byte, error) {
	rc, _, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if limit > 0 && int64(len(data)) > limit {
		return nil, storage.ErrTooLarge
	}
	return data, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.UsageEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.UsageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type testEnv struct {
	provider      *fakeProvider
	store         *memStore
	publisher     *recordingPublisher
	convRepo      repository.ConversationRepository
	contentRepo   repository.ContentRepository
	catalogueRepo repository.CatalogueRepository
	mediaRepo     repository.MediaRepository
	settings      repository.SettingsRepository
	conversations ConversationService
	pipeline      AttachmentPipeline
	models        ModelService
	orchestrator  *Orchestrator
	pages         PageGeneratorService
	assistants    AssistantService
	db            *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ai := testAIConfig()
	env := &testEnv{
		provider:      &fakeProvider{},
		store:         newMemStore(),
		publisher:     &recordingPublisher{},
		convRepo:      repository.NewConversationRepository(db),
		contentRepo:   repository.NewContentRepository(db),
		catalogueRepo: repository.NewCatalogueRepository(db),
		mediaRepo:     repository.NewMediaRepository(db),
		settings:      repository.NewSettingsRepository(rdb),
		db:            db,
	}
	env.conversations = NewConversationService(env.convRepo, env.provider, env.publisher, ai.CompactKeepLast)
	env.pipeline = NewAttachmentPipeline(env.store, env.mediaRepo, ai.MaxImageBytes, ai.MediaBaseURL)
	env.models = NewModelService(env.provider, env.settings, testDefaultModel)
	env.orchestrator = NewOrchestrator(env.conversations, env.pipeline, env.provider, env.publisher, ai)
	env.pages = NewPageGeneratorService(env.orchestrator, env.conversations, env.pipeline, env.models, env.contentRepo, env.catalogueRepo, ai)
	env.assistants = NewAssistantService(env.orchestrator, env.conversations, env.models, env.contentRepo, env.catalogueRepo)
	return env
}

// storeImage 写入一张图片并返回对应的附件。
func (e *testEnv) storeImage(t *testing.T, key string, data []byte) model.Attachment {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), key, bytes.NewReader(data), int64(len(data)), "image/png"))
	media := &model.Media{StorageKey: key, FileName: key + ".png", MimeType: "image/png", Size: int64(len(data)), UserID: 1}
	require.NoError(t, e.mediaRepo.Create(context.Background(), media))
	return model.Attachment{
		URL:      fmt.Sprintf("/api/v1/ai/media/%d", media.ID),
		MediaID:  media.ID,
		MimeType: "image/png",
		Type:     "image",
	}
}

func uintPtr(v uint) *uint { return &v }
