package onboarding

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/brand-onboarding/internal/assistant"
	"github.com/ashureev/brand-onboarding/internal/domain"
	"github.com/ashureev/brand-onboarding/internal/extract"
	"github.com/ashureev/brand-onboarding/internal/session"
	"github.com/ashureev/brand-onboarding/internal/store"
	"github.com/ashureev/brand-onboarding/internal/transcript"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const acmeReply = "Thanks, that's everything! Onboarding is complete.\n\n```json\n" + `{
  "brand_name": "Acme",
  "website_url": "https://acme.com",
  "description": "Widgets",
  "social_media": [{"platform": "Twitter", "handle": "@acme"}],
  "key_terms": ["acme", "widgets"]
}` + "\n```\n"

var acmeProfile = &domain.BrandProfile{
	BrandName:   "Acme",
	WebsiteURL:  "https://acme.com",
	Description: "Widgets",
	SocialMedia: []domain.SocialHandle{{Platform: "Twitter", Handle: "@acme"}},
	KeyTerms:    []string{"acme", "widgets"},
}

type fakeAssistant struct {
	mu       sync.Mutex
	requests []assistant.Request
	reply    func(ctx context.Context, req assistant.Request) (string, error)
}

func (f *fakeAssistant) Complete(ctx context.Context, req assistant.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.reply(ctx, req)
}

func (f *fakeAssistant) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeAssistant) lastRequest() assistant.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// replyWithBlockOn answers with the Acme block when the message contains
// "done", and a plain question otherwise.
func replyWithBlockOn() func(context.Context, assistant.Request) (string, error) {
	return func(_ context.Context, req assistant.Request) (string, error) {
		if strings.Contains(req.Message, "done") {
			return acmeReply, nil
		}
		return "Nice to meet you! What's your website?", nil
	}
}

type fakeCommitter struct {
	mu       sync.Mutex
	profiles []*domain.BrandProfile
	err      error
}

func (f *fakeCommitter) CommitBrand(_ context.Context, profile *domain.BrandProfile) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, profile.Clone())
	if f.err != nil {
		return "", f.err
	}
	return "01HBRAND", nil
}

func (f *fakeCommitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.profiles)
}

type recordingTranscript struct {
	mu     sync.Mutex
	events []transcript.Event
}

func (r *recordingTranscript) Log(e transcript.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingTranscript) Close() error { return nil }

func (r *recordingTranscript) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

func newTestService(asst assistant.Completer, committer Committer, opts ...Option) *Service {
	return NewService(session.NewStore(), asst, committer, opts...)
}

func TestSendTurnUnknownSession(t *testing.T) {
	t.Parallel()

	svc := newTestService(&fakeAssistant{reply: replyWithBlockOn()}, nil)
	_, err := svc.SendTurn(context.Background(), "nope", "hello")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))

	_, err = svc.GetSession(context.Background(), "nope")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestSendTurnRejectsBlankMessage(t *testing.T) {
	t.Parallel()

	asst := &fakeAssistant{reply: replyWithBlockOn()}
	svc := newTestService(asst, nil)
	view := svc.CreateSession(context.Background())

	_, err := svc.SendTurn(context.Background(), view.ID, "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.Zero(t, asst.calls())

	got, err := svc.GetSession(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ChatHistory)
}

func TestSessionWithoutBlockNeverCompletes(t *testing.T) {
	t.Parallel()

	asst := &fakeAssistant{reply: func(context.Context, assistant.Request) (string, error) {
		return "Tell me more about your brand. ```json is how I'd format it later.", nil
	}}
	committer := &fakeCommitter{}
	svc := newTestService(asst, committer)
	view := svc.CreateSession(context.Background())

	for i := range 6 {
		res, err := svc.SendTurn(context.Background(), view.ID, "message")
		require.NoError(t, err, "turn %d", i)
		assert.False(t, res.Completed)
		assert.Nil(t, res.BrandData)
	}

	got, err := svc.GetSession(context.Background(), view.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
	assert.Len(t, got.ChatHistory, 12)
	assert.Zero(t, committer.count())
}

func TestAcmeScenarioCommitsToStore(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "onboarding.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	svc := newTestService(&fakeAssistant{reply: replyWithBlockOn()}, repo)
	view := svc.CreateSession(context.Background())

	first, err := svc.SendTurn(context.Background(), view.ID, "Hi, I'm onboarding MyBrand")
	require.NoError(t, err)
	assert.False(t, first.Completed)

	second, err := svc.SendTurn(context.Background(), view.ID, "That's all, we're done")
	require.NoError(t, err)
	require.True(t, second.Completed)
	if diff := cmp.Diff(acmeProfile, second.BrandData); diff != "" {
		t.Errorf("brand data mismatch (-want +got):\n%s", diff)
	}
	require.NotEmpty(t, second.BrandID)

	brand, err := repo.GetBrand(context.Background(), second.BrandID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", brand.Name)
	require.Len(t, brand.SocialMedia, 1)
	assert.Equal(t, "https://twitter.com/acme", brand.SocialMedia[0].URL)
	assert.Equal(t, []string{"acme", "widgets"}, brand.Keywords)

	got, err := svc.GetSession(context.Background(), view.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Equal(t, second.BrandID, got.BrandID)
	assert.Len(t, got.ChatHistory, 4)
}

func TestCompletedSessionShortCircuits(t *testing.T) {
	t.Parallel()

	asst := &fakeAssistant{reply: replyWithBlockOn()}
	committer := &fakeCommitter{}
	svc := newTestService(asst, committer)
	view := svc.CreateSession(context.Background())

	done, err := svc.SendTurn(context.Background(), view.ID, "done")
	require.NoError(t, err)
	require.True(t, done.Completed)
	before, err := svc.GetSession(context.Background(), view.ID)
	require.NoError(t, err)

	again, err := svc.SendTurn(context.Background(), view.ID, "actually, change the name to Globex")
	require.NoError(t, err)
	assert.Equal(t, AlreadyCompletedMessage, again.Message)
	assert.True(t, again.Completed)
	assert.Equal(t, "01HBRAND", again.BrandID)
	if diff := cmp.Diff(before.BrandData, again.BrandData); diff != "" {
		t.Errorf("brand data changed (-before +after):\n%s", diff)
	}

	after, err := svc.GetSession(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Len(t, after.ChatHistory, len(before.ChatHistory))
	assert.Equal(t, 1, asst.calls())
	assert.Equal(t, 1, committer.count())
}

func TestPersistenceFailureKeepsCompletion(t *testing.T) {
	t.Parallel()

	committer := &fakeCommitter{err: &store.PersistenceError{Op: "insert keyword", Err: errors.New("disk full")}}
	rec := &recordingTranscript{}
	svc := newTestService(&fakeAssistant{reply: replyWithBlockOn()}, committer, WithTranscript(rec))
	view := svc.CreateSession(context.Background())

	res, err := svc.SendTurn(context.Background(), view.ID, "done")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Empty(t, res.BrandID)
	if diff := cmp.Diff(acmeProfile, res.BrandData); diff != "" {
		t.Errorf("brand data mismatch (-want +got):\n%s", diff)
	}

	got, err := svc.GetSession(context.Background(), view.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.NotNil(t, got.BrandData)
	assert.Contains(t, rec.types(), transcript.EventPersistFailed)
}

func TestMalformedBlockKeepsConversationOpen(t *testing.T) {
	t.Parallel()

	rec := &recordingTranscript{}
	asst := &fakeAssistant{reply: func(context.Context, assistant.Request) (string, error) {
		return "Here you go:\n```json\n{\"brand_name\": \"Acme\",\n```", nil
	}}
	svc := newTestService(asst, &fakeCommitter{}, WithTranscript(rec))
	view := svc.CreateSession(context.Background())

	res, err := svc.SendTurn(context.Background(), view.ID, "done")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Contains(t, res.Message, "Here you go")
	assert.Contains(t, rec.types(), transcript.EventMalformedBlock)
	rec.mu.Lock()
	assert.Equal(t, map[string]any{"format": "json"}, rec.events[len(rec.events)-1].Meta)
	rec.mu.Unlock()

	got, err := svc.GetSession(context.Background(), view.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
	assert.Len(t, got.ChatHistory, 2)
}

func TestPartialBlockIsIncomplete(t *testing.T) {
	t.Parallel()

	partial := strings.Replace(acmeReply, `"key_terms": ["acme", "widgets"]`, `"key_terms": null`, 1)
	committer := &fakeCommitter{}
	svc := newTestService(&fakeAssistant{reply: func(context.Context, assistant.Request) (string, error) {
		return partial, nil
	}}, committer)
	view := svc.CreateSession(context.Background())

	res, err := svc.SendTurn(context.Background(), view.ID, "done")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Zero(t, committer.count())
}

func TestAssistantFailureRollsBackHumanMessage(t *testing.T) {
	t.Parallel()

	fail := true
	var mu sync.Mutex
	asst := &fakeAssistant{reply: func(context.Context, assistant.Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return "", &assistant.Error{Provider: "fake", Err: errors.New("overloaded")}
		}
		return "Welcome back!", nil
	}}
	svc := newTestService(asst, nil)
	view := svc.CreateSession(context.Background())

	_, err := svc.SendTurn(context.Background(), view.ID, "hello")
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err))

	got, err := svc.GetSession(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ChatHistory)

	mu.Lock()
	fail = false
	mu.Unlock()
	res, err := svc.SendTurn(context.Background(), view.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "Welcome back!", res.Message)
	assert.Empty(t, asst.lastRequest().History)
}

func TestPlainAssistantErrorIsWrapped(t *testing.T) {
	t.Parallel()

	svc := newTestService(&fakeAssistant{reply: func(context.Context, assistant.Request) (string, error) {
		return "", errors.New("boom")
	}}, nil)
	view := svc.CreateSession(context.Background())

	_, err := svc.SendTurn(context.Background(), view.ID, "hello")
	var aerr *assistant.Error
	require.True(t, errors.As(err, &aerr))
	assert.True(t, errdefs.IsUnavailable(err))
}

func TestCancelledTurnRollsBack(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	asst := &fakeAssistant{reply: func(ctx context.Context, _ assistant.Request) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}}
	svc := newTestService(asst, nil)
	view := svc.CreateSession(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.SendTurn(ctx, view.ID, "hello")
		errCh <- err
	}()
	<-started
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, errdefs.IsUnavailable(err))

	got, err := svc.GetSession(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ChatHistory)
}

func TestCancelWhileWaitingForTurnIsNotAnAssistantError(t *testing.T) {
	t.Parallel()

	sessions := session.NewStore()
	asst := &fakeAssistant{reply: replyWithBlockOn()}
	svc := NewService(sessions, asst, nil)
	view := svc.CreateSession(context.Background())

	sess, err := sessions.Get(view.ID)
	require.NoError(t, err)
	require.NoError(t, sess.AcquireTurn(context.Background()))
	defer sess.ReleaseTurn()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.SendTurn(ctx, view.ID, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errdefs.IsUnavailable(err))

	var asstErr *assistant.Error
	assert.False(t, errors.As(err, &asstErr))
	assert.Zero(t, asst.calls())
}

func TestPromptCarriesInstructionsAndHistory(t *testing.T) {
	t.Parallel()

	asst := &fakeAssistant{reply: replyWithBlockOn()}
	svc := newTestService(asst, nil)
	view := svc.CreateSession(context.Background())

	_, err := svc.SendTurn(context.Background(), view.ID, "Hi, I'm onboarding MyBrand")
	require.NoError(t, err)
	_, err = svc.SendTurn(context.Background(), view.ID, "https://mybrand.com")
	require.NoError(t, err)

	req := asst.lastRequest()
	assert.Contains(t, req.Instructions, "brand protection assistant")
	assert.Contains(t, req.Instructions, extract.FormatInstructions())
	assert.Equal(t, "https://mybrand.com", req.Message)
	require.Len(t, req.History, 2)
	assert.Equal(t, domain.RoleHuman, req.History[0].Role)
	assert.Equal(t, domain.RoleAssistant, req.History[1].Role)
}

func TestSessionsProgressIndependently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	asst := &fakeAssistant{reply: func(ctx context.Context, req assistant.Request) (string, error) {
		if req.Message == "slow" {
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return replyWithBlockOn()(ctx, req)
	}}
	svc := newTestService(asst, &fakeCommitter{})
	slow := svc.CreateSession(context.Background())
	fast := svc.CreateSession(context.Background())

	slowDone := make(chan error, 1)
	go func() {
		_, err := svc.SendTurn(context.Background(), slow.ID, "slow")
		slowDone <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := svc.SendTurn(ctx, fast.ID, "done")
	require.NoError(t, err)
	assert.True(t, res.Completed)

	close(release)
	require.NoError(t, <-slowDone)
}

func TestSameSessionTurnsAreSerialized(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	asst := &fakeAssistant{reply: func(context.Context, assistant.Request) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	}}
	svc := newTestService(asst, nil)
	view := svc.CreateSession(context.Background())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SendTurn(context.Background(), view.ID, "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	got, err := svc.GetSession(context.Background(), view.ID)
	require.NoError(t, err)
	require.Len(t, got.ChatHistory, 16)
	for i, m := range got.ChatHistory {
		want := domain.RoleHuman
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "entry %d", i)
	}
}

func TestTranscriptRecordsTurn(t *testing.T) {
	t.Parallel()

	rec := &recordingTranscript{}
	svc := newTestService(&fakeAssistant{reply: replyWithBlockOn()}, &fakeCommitter{}, WithTranscript(rec))
	ctx := transcript.WithChannel(context.Background(), "ws")
	view := svc.CreateSession(ctx)

	_, err := svc.SendTurn(ctx, view.ID, "done")
	require.NoError(t, err)

	assert.Equal(t, []string{
		transcript.EventSessionStarted,
		transcript.EventHumanMessage,
		transcript.EventAssistantMessage,
		transcript.EventCompleted,
	}, rec.types())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.events {
		assert.Equal(t, "ws", e.Channel)
	}
	assert.Equal(t, "01HBRAND", rec.events[3].BrandID)
	assert.Equal(t, map[string]any{"brand_name": "Acme"}, rec.events[3].Meta)
}
