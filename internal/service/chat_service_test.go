package service

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/model"
	"github.com/qs3c/kanchana_server/internal/pkg/crypto"
	"github.com/qs3c/kanchana_server/internal/pkg/fingerprint"
	"github.com/qs3c/kanchana_server/internal/pkg/provider"
	"github.com/qs3c/kanchana_server/internal/pkg/pubsub"
	"github.com/qs3c/kanchana_server/internal/pkg/queue"
	"github.com/qs3c/kanchana_server/internal/pkg/vector"
	"github.com/qs3c/kanchana_server/internal/repository"
	"github.com/qs3c/kanchana_server/internal/testutil"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Route(ctx context.Context, req provider.RouteRequest) (*provider.Reply, error) {
	args := m.Called(ctx, req)
	reply, _ := args.Get(0).(*provider.Reply)
	return reply, args.Error(1)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	values, _ := args.Get(0).([]float32)
	return values, args.Error(1)
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []*queue.MemoryIndexJob
}

func (q *recordingQueue) Push(ctx context.Context, job *queue.MemoryIndexJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type chatFixture struct {
	db     *gorm.DB
	cfg    *config.Config
	svc    *ChatService
	gen    *MockGenerator
	store  *ConversationStore
	ledger *UsageLedger

	mu     sync.Mutex
	events []*pubsub.ChatEvent
}

func (f *chatFixture) stages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Stage)
	}
	return out
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Encryption.KeySeed = "test-seed"
	cfg.ApplyDefaults()
	return cfg
}

// steppingClock 每次调用前进一秒，保证消息顺序稳定
func steppingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func setupChatService(t *testing.T) *chatFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := testConfig()
	cipher, err := crypto.NewCipher(cfg.Encryption.KeySeed)
	require.NoError(t, err)

	userRepo := repository.NewUserRepository(db)
	ledger := NewUsageLedger(userRepo, repository.NewModeUsageRepository(db), repository.NewGuestUsageRepository(db))
	store := NewConversationStore(repository.NewMessageRepository(db), cipher)
	store.now = steppingClock()

	f := &chatFixture{
		db:     db,
		cfg:    cfg,
		gen:    new(MockGenerator),
		store:  store,
		ledger: ledger,
	}
	events := pubsub.NewLocal(func(evt *pubsub.ChatEvent) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, evt)
	})

	f.svc = NewChatService(cfg, userRepo, ledger, store, NewMemoryService(nil, nil, store, 4), f.gen, nil, events)
	f.svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func testGuest() *fingerprint.Guest {
	hash := strings.Repeat("ab", 32)
	return &fingerprint.Guest{
		FingerprintHash: hash,
		GuestUserID:     "guest_" + hash[:24],
		RateLimitKey:    "guest:" + hash,
	}
}

func requireChatError(t *testing.T, err error, code string) *ChatError {
	t.Helper()
	require.Error(t, err)
	ce, ok := AsChatError(err)
	require.True(t, ok, "expected ChatError, got %v", err)
	assert.Equal(t, code, ce.Code)
	return ce
}

func TestChatService_GuestAtCeilingRejected(t *testing.T) {
	f := setupChatService(t)
	guest := testGuest()
	testutil.TestGuestUsage(t, f.db, guest.FingerprintHash, "Lovely", 7)

	_, err := f.svc.SendMessage(context.Background(), Caller{Guest: guest}, SendInput{Mode: "Lovely", Text: "hello"})

	ce := requireChatError(t, err, CodeModeLimitReached)
	assert.Equal(t, http.StatusForbidden, ce.Status)
	assert.Equal(t, 7, ce.Details["modeLimit"])
	assert.Equal(t, 7, ce.Details["messageCount"])
	assert.Equal(t, 0, ce.Details["remainingMessages"])
	assert.Equal(t, CategoryGuest, ce.Details["limitType"])
	f.gen.AssertNotCalled(t, "Route", mock.Anything, mock.Anything)

	var count int64
	f.db.Model(&model.Message{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestChatService_GuestSendSucceeds(t *testing.T) {
	f := setupChatService(t)
	guest := testGuest()

	f.gen.On("Route", mock.Anything, mock.MatchedBy(func(req provider.RouteRequest) bool {
		return !req.Unlimited && req.OwnerKey == guest.GuestUserID && req.Tier == model.TierFree
	})).Return(&provider.Reply{Text: "namaste", Provider: provider.NameGroq}, nil)

	resp, err := f.svc.SendMessage(context.Background(), Caller{Guest: guest, RequestID: "r1"}, SendInput{Text: "  hi  "})
	require.NoError(t, err)

	assert.Equal(t, "Lovely", resp.Mode)
	assert.Equal(t, "hi", resp.UserMessage.Text)
	assert.Equal(t, "namaste", resp.AssistantMessage.Text)
	assert.Equal(t, model.RoleAssistantTurn, resp.AssistantMessage.Role)
	assert.Equal(t, 1, resp.Usage.MessageCount)
	assert.Equal(t, CategoryGuest, resp.Usage.LimitType)
	require.NotNil(t, resp.Usage.RemainingMessages)
	assert.Equal(t, 6, *resp.Usage.RemainingMessages)

	assert.Equal(t, 1, f.ledger.GuestModeCount(guest.FingerprintHash, "Lovely"))
	assert.Equal(t, []string{pubsub.StageUserMessageSaved, pubsub.StageGenerating, pubsub.StageCompleted}, f.stages())
}

func TestChatService_FreeUserModeIsolation(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db)
	testutil.TestModeUsage(t, f.db, user.ID, "Lovely", 10)

	_, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Mode: "Lovely", Text: "hello"})
	ce := requireChatError(t, err, CodeModeLimitReached)
	assert.Equal(t, 10, ce.Details["modeLimit"])
	assert.Equal(t, CategoryFree, ce.Details["limitType"])

	f.gen.On("Route", mock.Anything, mock.Anything).
		Return(&provider.Reply{Text: "chill reply", Provider: provider.NameGroq}, nil)

	resp, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Mode: "Chill", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Usage.MessageCount)
	require.NotNil(t, resp.Usage.ModeLimit)
	assert.Equal(t, 10, *resp.Usage.ModeLimit)
	assert.Equal(t, 9, *resp.Usage.RemainingMessages)

	// Lovely 计数不受影响
	assert.Equal(t, 10, f.ledger.UserModeCount(user.ID, "Lovely"))

	updated, err := repository.NewUserRepository(f.db).GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.MessageCount)
}

func TestChatService_PremiumPassesQuotaGate(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db, testutil.WithTier(model.TierPremium))
	testutil.TestModeUsage(t, f.db, user.ID, "Lovely", 999)

	failures := []provider.Failure{{Provider: provider.NameGemini, StatusCode: 503, Reason: "missing_api_key"}}
	f.gen.On("Route", mock.Anything, mock.MatchedBy(func(req provider.RouteRequest) bool {
		return req.Unlimited
	})).Return(nil, &provider.UnavailableError{Failures: failures})

	_, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Mode: "Lovely", Text: "hello"})
	ce := requireChatError(t, err, CodeAIResponseUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, ce.Status)
	assert.Equal(t, failures, ce.Details["failures"])

	// 用户消息已保存，计数已增加
	assert.Equal(t, 1000, f.ledger.UserModeCount(user.ID, "Lovely"))
	history, err := f.svc.GetHistory(user.ID, "Lovely", 10)
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hello", history.Messages[0].Text)

	assert.Contains(t, f.stages(), pubsub.StageFailed)
}

func TestChatService_HostIsUnlimited(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db, testutil.WithHost())
	testutil.TestModeUsage(t, f.db, user.ID, "Mystic", 500)

	f.gen.On("Route", mock.Anything, mock.Anything).Return(&provider.Reply{Text: "ok", Provider: provider.NameGemini}, nil)

	resp, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Mode: "Mystic", Text: "hi", VoiceMode: true, VoiceDurationSeconds: 600})
	require.NoError(t, err)
	assert.Equal(t, CategoryHost, resp.Usage.LimitType)
	assert.True(t, resp.Usage.IsHost)
	assert.Nil(t, resp.Usage.ModeLimit)
	assert.Nil(t, resp.Usage.RemainingMessages)
}

func TestChatService_Validation(t *testing.T) {
	f := setupChatService(t)
	guest := testGuest()
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, Caller{Guest: guest}, SendInput{Text: "   "})
	requireChatError(t, err, CodeMessageRequired)

	_, err = f.svc.SendMessage(ctx, Caller{Guest: guest}, SendInput{Text: strings.Repeat("a", 4001)})
	requireChatError(t, err, CodeMessageTooLong)

	_, err = f.svc.SendMessage(ctx, Caller{Guest: guest}, SendInput{Mode: "Angry", Text: "hi"})
	ce := requireChatError(t, err, CodeInvalidMode)
	assert.Equal(t, f.cfg.Chat.Modes, ce.Details["allowedModes"])

	_, err = f.svc.SendMessage(ctx, Caller{Guest: guest}, SendInput{Text: "hi", VoiceMode: true})
	ce = requireChatError(t, err, CodeVoiceLoginRequired)
	assert.Equal(t, http.StatusUnauthorized, ce.Status)

	_, err = f.svc.SendMessage(ctx, Caller{}, SendInput{Text: "hi"})
	requireChatError(t, err, CodeGuestIdentityMissing)

	_, err = f.svc.SendMessage(ctx, Caller{UserID: 99999}, SendInput{Text: "hi"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	f.gen.AssertNotCalled(t, "Route", mock.Anything, mock.Anything)
}

func TestChatService_PreferredModeFallback(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db, testutil.WithPreferredMode("Shayari"))

	f.gen.On("Route", mock.Anything, mock.MatchedBy(func(req provider.RouteRequest) bool {
		return req.Mode == "Shayari"
	})).Return(&provider.Reply{Text: "sher", Provider: provider.NameGroq}, nil)

	resp, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "kuch sunao"})
	require.NoError(t, err)
	assert.Equal(t, "Shayari", resp.Mode)
}

func TestChatService_DailyVoiceLimit(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db, testutil.WithVoiceUsage("2026-03-01", 280))
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, Caller{UserID: user.ID}, SendInput{Text: "hi", VoiceMode: true, VoiceDurationSeconds: 60})
	ce := requireChatError(t, err, CodeDailyVoiceLimitReached)
	assert.Equal(t, 300, ce.Details["dailyLimitSeconds"])
	assert.Equal(t, 280, ce.Details["secondsUsed"])
	assert.Equal(t, 20, ce.Details["remainingVoiceSeconds"])
	assert.Equal(t, 60, ce.Details["requestedVoiceSeconds"])

	userRepo := repository.NewUserRepository(f.db)
	unchanged, err := userRepo.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 280, unchanged.VoiceSecondsUsed)
	assert.Equal(t, 0, f.ledger.UserModeCount(user.ID, "Lovely"))

	f.gen.On("Route", mock.Anything, mock.MatchedBy(func(req provider.RouteRequest) bool {
		return req.VoiceMode && !req.Unlimited
	})).Return(&provider.Reply{Text: "voice reply", Provider: provider.NameGemini}, nil)

	_, err = f.svc.SendMessage(ctx, Caller{UserID: user.ID}, SendInput{Text: "hi", VoiceMode: true, VoiceDurationSeconds: 20})
	require.NoError(t, err)

	updated, err := userRepo.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, updated.VoiceSecondsUsed)
	assert.Equal(t, "2026-03-01", updated.VoiceDateKey)
}

func TestChatService_VoiceResetsOnNewDay(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db, testutil.WithVoiceUsage("2026-02-28", 300))

	f.gen.On("Route", mock.Anything, mock.Anything).Return(&provider.Reply{Text: "ok", Provider: provider.NameGemini}, nil)

	_, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "hi", VoiceMode: true, VoiceDurationSeconds: 45})
	require.NoError(t, err)

	updated, err := repository.NewUserRepository(f.db).GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, updated.VoiceSecondsUsed)
	assert.Equal(t, "2026-03-01", updated.VoiceDateKey)
}

func TestChatService_HistoryExcludesCurrentTurn(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db)
	owner := strconv.FormatInt(user.ID, 10)

	_, err := f.store.Append(owner, "Lovely", model.RoleUserTurn, "earlier question", "")
	require.NoError(t, err)
	_, err = f.store.Append(owner, "Lovely", model.RoleAssistantTurn, "earlier answer", "")
	require.NoError(t, err)

	f.gen.On("Route", mock.Anything, mock.MatchedBy(func(req provider.RouteRequest) bool {
		return len(req.History) == 2 &&
			req.History[0].Role == provider.RoleUser && req.History[0].Text == "earlier question" &&
			req.History[1].Role == provider.RoleAssistant && req.Input == "new question" &&
			len(req.Memory) == 0
	})).Return(&provider.Reply{Text: "answer", Provider: provider.NameGroq}, nil)

	_, err = f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "new question"})
	require.NoError(t, err)
	f.gen.AssertExpectations(t)
}

func TestChatService_ProviderRejectsRequest(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db)

	f.gen.On("Route", mock.Anything, mock.Anything).Return(nil, &provider.Failure{
		Provider: provider.NameGroq, StatusCode: http.StatusBadRequest, Reason: "empty_input", Message: "Message text is required.",
	})

	_, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "hi"})
	ce := requireChatError(t, err, CodeAIRequestRejected)
	assert.Equal(t, http.StatusBadRequest, ce.Status)
	assert.Equal(t, provider.NameGroq, ce.Details["provider"])
}

func TestChatService_UnexpectedRouteError(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db)

	f.gen.On("Route", mock.Anything, mock.Anything).Return(nil, errors.New("upload chat image: boom"))

	_, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "hi"})
	require.Error(t, err)
	_, isChat := AsChatError(err)
	assert.False(t, isChat)
	assert.Contains(t, err.Error(), "boom")
}

func TestChatService_ImageURLPersisted(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db, testutil.WithTier(model.TierPremium))

	f.gen.On("Route", mock.Anything, mock.Anything).Return(&provider.Reply{
		Text: "Tasveer", ImageURL: "https://cdn.example.com/a.png", Provider: provider.NameGemini,
	}, nil)

	resp, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "draw a moon"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", resp.AssistantMessage.ImageURL)

	history, err := f.svc.GetHistory(user.ID, "Lovely", 10)
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "https://cdn.example.com/a.png", history.Messages[1].ImageURL)
}

func TestChatService_ConcurrentSendsNoLostIncrements(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db, testutil.WithTier(model.TierPremium))
	f.svc.events = nil

	f.gen.On("Route", mock.Anything, mock.Anything).Return(&provider.Reply{Text: "ok", Provider: provider.NameGemini}, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "hi"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, n, f.ledger.UserModeCount(user.ID, "Lovely"))
	updated, err := repository.NewUserRepository(f.db).GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), updated.MessageCount)
}

func TestChatService_ClearHistoryKeepsCounter(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db)

	f.gen.On("Route", mock.Anything, mock.Anything).Return(&provider.Reply{Text: "ok", Provider: provider.NameGroq}, nil)
	for i := 0; i < 2; i++ {
		_, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "hi"})
		require.NoError(t, err)
	}

	first, err := f.svc.GetHistory(user.ID, "", 0)
	require.NoError(t, err)
	second, err := f.svc.GetHistory(user.ID, "", 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first.Messages, 4)

	cleared, err := f.svc.ClearHistory(user.ID, "Lovely")
	require.NoError(t, err)
	assert.Equal(t, "Lovely", cleared.Mode)
	assert.Equal(t, int64(4), cleared.DeletedCount)

	after, err := f.svc.GetHistory(user.ID, "Lovely", 10)
	require.NoError(t, err)
	assert.Empty(t, after.Messages)
	assert.Equal(t, 2, f.ledger.UserModeCount(user.ID, "Lovely"))
}

func TestChatService_GetHistoryIntegrityFailure(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db)
	owner := strconv.FormatInt(user.ID, 10)

	turn, err := f.store.Append(owner, "Lovely", model.RoleUserTurn, "secret", "")
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&model.Message{}).Where("id = ?", turn.ID).
		Update("auth_tag", "AAAAAAAAAAAAAAAAAAAAAA==").Error)

	_, err = f.svc.GetHistory(user.ID, "Lovely", 10)
	requireChatError(t, err, CodeMessageIntegrityFailed)
}

func TestChatService_MemoryIndexing(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db, testutil.WithTier(model.TierPremium))
	owner := strconv.FormatInt(user.ID, 10)

	embedder := new(MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)
	vectorRepo := repository.NewVectorRepository(f.db)
	f.svc.memory = NewMemoryService(embedder, vector.NewIndex(vectorRepo), f.store, 4)
	f.svc.runAsync = func(fn func()) { fn() }

	f.gen.On("Route", mock.Anything, mock.Anything).Return(&provider.Reply{Text: "yaad rahega", Provider: provider.NameGemini}, nil)

	resp, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "mera naam Ravi hai"})
	require.NoError(t, err)

	entries, err := vectorRepo.ListByNamespace(vector.Namespace(owner))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	msg, err := repository.NewMessageRepository(f.db).GetByID(resp.UserMessage.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.UserMessage.ID, msg.VectorID)

	// 下一条消息会带上长期记忆
	f.gen.ExpectedCalls = nil
	f.gen.On("Route", mock.Anything, mock.MatchedBy(func(req provider.RouteRequest) bool {
		return len(req.Memory) == 2
	})).Return(&provider.Reply{Text: "Ravi", Provider: provider.NameGemini}, nil)

	_, err = f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "mera naam kya hai"})
	require.NoError(t, err)
	f.gen.AssertExpectations(t)
}

func TestChatService_MemoryIndexingEnqueued(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db, testutil.WithHost())

	embedder := new(MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0, 1}, nil)
	f.svc.memory = NewMemoryService(embedder, vector.NewIndex(repository.NewVectorRepository(f.db)), f.store, 4)
	jobs := &recordingQueue{}
	f.svc.jobs = jobs

	f.gen.On("Route", mock.Anything, mock.Anything).Return(&provider.Reply{Text: "ok", Provider: provider.NameGemini}, nil)

	resp, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Mode: "Chill", Text: "hi"})
	require.NoError(t, err)

	require.Len(t, jobs.jobs, 1)
	job := jobs.jobs[0]
	assert.Equal(t, strconv.FormatInt(user.ID, 10), job.OwnerKey)
	assert.Equal(t, "Chill", job.Mode)
	assert.Equal(t, []string{resp.UserMessage.ID, resp.AssistantMessage.ID}, job.MessageIDs)
}

func TestChatService_FreeUserSkipsMemory(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db)

	embedder := new(MockEmbedder)
	f.svc.memory = NewMemoryService(embedder, vector.NewIndex(repository.NewVectorRepository(f.db)), f.store, 4)
	jobs := &recordingQueue{}
	f.svc.jobs = jobs

	f.gen.On("Route", mock.Anything, mock.Anything).Return(&provider.Reply{Text: "ok", Provider: provider.NameGroq}, nil)

	_, err := f.svc.SendMessage(context.Background(), Caller{UserID: user.ID}, SendInput{Text: "hi"})
	require.NoError(t, err)

	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	assert.Empty(t, jobs.jobs)
}

func TestChatService_Usage(t *testing.T) {
	f := setupChatService(t)
	user := testutil.TestUser(t, f.db, testutil.WithVoiceUsage("2026-03-01", 100))
	testutil.TestModeUsage(t, f.db, user.ID, "Horror", 4)

	resp, err := f.svc.Usage(Caller{UserID: user.ID}, "Horror")
	require.NoError(t, err)
	assert.Equal(t, "Horror", resp.Mode)
	assert.Equal(t, 4, resp.MessageCount)
	assert.Equal(t, 6, *resp.RemainingMessages)
	assert.Equal(t, 100, resp.VoiceSecondsUsed)
	assert.Equal(t, 300, *resp.VoiceDailyLimit)
	assert.Equal(t, 200, *resp.RemainingVoiceSeconds)

	guest := testGuest()
	testutil.TestGuestUsage(t, f.db, guest.FingerprintHash, "Lovely", 3)
	guestResp, err := f.svc.Usage(Caller{Guest: guest}, "")
	require.NoError(t, err)
	assert.Equal(t, CategoryGuest, guestResp.LimitType)
	assert.Equal(t, 3, guestResp.MessageCount)
	assert.Equal(t, 4, *guestResp.RemainingMessages)
	assert.Nil(t, guestResp.VoiceDailyLimit)

	_, err = f.svc.Usage(Caller{Guest: guest}, "Nope")
	requireChatError(t, err, CodeInvalidMode)
}

func TestChatService_Modes(t *testing.T) {
	f := setupChatService(t)

	modes := f.svc.Modes()
	require.Len(t, modes, len(f.cfg.Chat.Modes))
	assert.Equal(t, "Lovely", modes[0].Name)
	assert.Equal(t, provider.ModeGuidance["Lovely"], modes[0].Guidance)
}
