package poller

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-agent/internal/composer"
	"presence-agent/internal/core/domain"
	"presence-agent/internal/cursor"
	"presence-agent/internal/gate"
	"presence-agent/internal/scheduler"
	"presence-agent/internal/testutil"
	"presence-agent/internal/thread"
)

const agentID = "agent-1"

var persona = domain.Character{Name: "Ava", Topics: []string{"tea"}}

type replier struct {
	calls []string
	fail  map[string]error
}

func (r *replier) ComposeReply(ctx context.Context, thread []domain.Post, candidate domain.Post) error {
	r.calls = append(r.calls, candidate.ID)
	return r.fail[candidate.ID]
}

type harness struct {
	site    *testutil.Site
	brain   *testutil.Brain
	store   *testutil.Store
	cursor  *cursor.Store
	replier *replier
	poller  *Poller
}

func newHarness(t *testing.T, label string) *harness {
	t.Helper()
	h := &harness{
		site:    testutil.NewSite("self"),
		brain:   &testutil.Brain{TextFn: func(string) (string, error) { return label, nil }},
		store:   testutil.NewStore(),
		replier: &replier{fail: map[string]error{}},
	}
	h.site.Handle = "ava"
	h.cursor = cursor.New(h.store, "", nil)
	h.poller = New(
		Config{AgentID: agentID, Handle: "ava", MaxDepth: thread.DefaultMaxDepth},
		h.site, h.store, h.cursor,
		thread.NewReconstructor(h.site, h.store, agentID, nil),
		gate.New(h.brain, persona, "ava", nil),
		h.replier, nil,
	)
	return h
}

func mention(id string) domain.Post {
	return domain.Post{ID: id, AuthorID: "u1", AuthorHandle: "bob", Text: "hey @ava " + id, ConversationID: id}
}

func TestRunOnceRespondsAndAdvancesCursor(t *testing.T) {
	h := newHarness(t, "[RESPOND]")
	h.site.Mentions = []domain.Post{mention("100")}

	out, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"100"}, h.replier.calls)
	assert.Equal(t, Outcome{Fetched: 1, Processed: 1}, out)
	cur, set := h.cursor.Current()
	assert.True(t, set)
	assert.Equal(t, uint64(100), cur)
	assert.Equal(t, "100", h.store.KV[cursor.DefaultKey])

	_, err = h.store.GetMemory(context.Background(), domain.LocalID("100", agentID))
	assert.NoError(t, err)
}

func TestRunOnceSkipsAtOrBelowCursor(t *testing.T) {
	h := newHarness(t, "[RESPOND]")
	h.store.KV[cursor.DefaultKey] = "100"
	require.NoError(t, h.cursor.Load(context.Background()))
	h.site.Mentions = []domain.Post{mention("100"), mention("42")}

	out, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.replier.calls)
	assert.Equal(t, 2, out.Skipped)
	assert.Zero(t, h.store.MemoryCount())
	assert.Empty(t, h.brain.TextCalls)
}

func TestRunOnceOrdersNumerically(t *testing.T) {
	h := newHarness(t, "RESPOND")
	h.site.Mentions = []domain.Post{mention("1000"), mention("100"), mention("99")}

	_, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"99", "100", "1000"}, h.replier.calls)
	cur, _ := h.cursor.Current()
	assert.Equal(t, uint64(1000), cur)
}

func TestRunOnceDropsSelfDuplicatesAndBadIDs(t *testing.T) {
	h := newHarness(t, "RESPOND")
	own := mention("200")
	own.AuthorID = "self"
	byHandle := mention("201")
	byHandle.AuthorID = "other-self"
	byHandle.AuthorHandle = "AVA"
	h.site.Mentions = []domain.Post{mention("150"), own, byHandle, mention("150"), mention("not-a-number")}

	out, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"150"}, h.replier.calls)
	assert.Equal(t, 1, out.Processed)
}

func TestRunOnceIsIdempotentAcrossCursorLoss(t *testing.T) {
	h := newHarness(t, "RESPOND")
	h.site.Mentions = []domain.Post{mention("100")}

	_, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	// A fresh cursor simulates a lost watermark; local memory still guards.
	h.poller.cursor = cursor.New(testutil.NewStore(), "", nil)
	out, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"100"}, h.replier.calls)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 1, h.store.MemoryCount())
}

func TestRunOnceFailureHoldsCursorAndContinues(t *testing.T) {
	h := newHarness(t, "RESPOND")
	h.replier.fail["101"] = testutil.ErrBoom
	h.site.Mentions = []domain.Post{mention("100"), mention("101"), mention("102")}

	out, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"100", "101", "102"}, h.replier.calls)
	assert.Equal(t, Outcome{Fetched: 3, Processed: 2, Failed: 1}, out)
	cur, _ := h.cursor.Current()
	assert.Equal(t, uint64(100), cur)
	assert.Equal(t, "100", h.store.KV[cursor.DefaultKey])
}

func TestRunOnceRetriesFailedCandidateNextPass(t *testing.T) {
	h := newHarness(t, "RESPOND")
	h.replier.fail["101"] = testutil.ErrBoom
	h.site.Mentions = []domain.Post{mention("100"), mention("101")}

	out, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Outcome{Fetched: 2, Processed: 1, Failed: 1}, out)
	_, err = h.store.GetMemory(context.Background(), domain.LocalID("101", agentID))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	delete(h.replier.fail, "101")
	out, err = h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"100", "101", "101"}, h.replier.calls)
	assert.Equal(t, Outcome{Fetched: 2, Processed: 1, Skipped: 1}, out)
	cur, _ := h.cursor.Current()
	assert.Equal(t, uint64(101), cur)
	_, err = h.store.GetMemory(context.Background(), domain.LocalID("101", agentID))
	assert.NoError(t, err)
}

func TestRunOnceRetriesAfterGateError(t *testing.T) {
	h := newHarness(t, "")
	calls := 0
	h.brain.TextFn = func(string) (string, error) {
		calls++
		if calls == 1 {
			return "", testutil.ErrBoom
		}
		return "[RESPOND]", nil
	}
	h.site.Mentions = []domain.Post{mention("100")}

	out, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failed)
	_, set := h.cursor.Current()
	assert.False(t, set)

	out, err = h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Processed)
	assert.Equal(t, []string{"100"}, h.replier.calls)
}

type cancellingReplier struct {
	cancel context.CancelFunc
	calls  []string
}

func (r *cancellingReplier) ComposeReply(ctx context.Context, thread []domain.Post, candidate domain.Post) error {
	r.calls = append(r.calls, candidate.ID)
	r.cancel()
	return nil
}

func TestRunOnceShutdownKeepsProgress(t *testing.T) {
	h := newHarness(t, "RESPOND")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &cancellingReplier{cancel: cancel}
	h.poller.replier = r
	h.site.Mentions = []domain.Post{mention("100"), mention("101")}

	out, err := h.poller.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"100"}, r.calls)
	assert.Equal(t, 1, out.Processed)
	assert.Equal(t, "100", h.store.KV[cursor.DefaultKey])
	_, err = h.store.GetMemory(context.Background(), domain.LocalID("101", agentID))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunOnceSearchFailureAbortsPass(t *testing.T) {
	h := newHarness(t, "RESPOND")
	h.site.SearchErr = testutil.ErrBoom

	_, err := h.poller.RunOnce(context.Background())
	require.ErrorIs(t, err, testutil.ErrBoom)
	_, set := h.cursor.Current()
	assert.False(t, set)
}

func TestRunOnceIgnoreAndStopDoNotReply(t *testing.T) {
	for _, label := range []string{"[IGNORE]", "[STOP]", "maybe later"} {
		t.Run(label, func(t *testing.T) {
			h := newHarness(t, label)
			h.site.Mentions = []domain.Post{mention("300")}

			out, err := h.poller.RunOnce(context.Background())
			require.NoError(t, err)

			assert.Empty(t, h.replier.calls)
			assert.Equal(t, 1, out.Processed)
			cur, _ := h.cursor.Current()
			assert.Equal(t, uint64(300), cur)
		})
	}
}

func TestRunOnceEmptyTextSkipsGate(t *testing.T) {
	h := newHarness(t, "RESPOND")
	empty := mention("400")
	empty.Text = "   "
	h.site.Mentions = []domain.Post{empty}

	_, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.brain.TextCalls)
	assert.Empty(t, h.replier.calls)
	assert.Equal(t, 1, h.store.MemoryCount())
}

func TestRunOnceBuildsThreadBeforeGate(t *testing.T) {
	h := newHarness(t, "IGNORE")
	root := domain.Post{ID: "10", AuthorID: "u2", AuthorHandle: "carol", Text: "root post", ConversationID: "10"}
	h.site.AddPost(root)
	reply := mention("11")
	reply.ParentID = "10"
	reply.ConversationID = "10"
	h.site.Mentions = []domain.Post{reply}

	_, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, h.brain.TextCalls, 1)
	assert.Contains(t, h.brain.TextCalls[0].Prompt, "root post")
	assert.Equal(t, 2, h.store.MemoryCount())
}

func TestRunOnceEndToEndWithComposer(t *testing.T) {
	h := newHarness(t, "")
	h.brain.TextFn = nil
	h.brain.Texts = []string{"[RESPOND]", `{"user":"Ava","text":"hi bob","action":"NONE"}`}
	queue := composer.NewSendQueue(nil).WithBackOff(1, func() backoff.BackOff { return &backoff.ZeroBackOff{} })
	c := composer.New(composer.Config{AgentID: agentID, Handle: "ava"}, persona, h.site, h.brain, h.store, h.store, nil,
		composer.WithQueue(queue),
		composer.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	h.poller.replier = c
	h.site.Mentions = []domain.Post{mention("100")}

	_, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)

	sent := h.site.SentPosts()
	require.Len(t, sent, 1)
	assert.Equal(t, "hi bob", sent[0].Text)
	assert.Equal(t, "100", sent[0].ReplyTo)
	assert.Equal(t, 2, h.store.MemoryCount())
}

func TestStartRegistersImmediateTask(t *testing.T) {
	h := newHarness(t, "RESPOND")
	h.store.KV[cursor.DefaultKey] = "50"
	h.site.Mentions = []domain.Post{mention("51")}
	s := scheduler.New(nil)

	require.NoError(t, h.poller.Start(context.Background(), s, scheduler.Fixed(time.Hour)))
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return s.Runs(TaskName) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()

	cur, _ := h.cursor.Current()
	assert.Equal(t, uint64(51), cur)
}
