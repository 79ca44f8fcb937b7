package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/aulabot/aula/internal/knowledge"
	"github.com/aulabot/aula/internal/log"
	"github.com/aulabot/aula/internal/session"
)

type genCall struct {
	system   string
	history  int
	userText string
}

// fakeGenerator scripts model behavior per call index.
type fakeGenerator struct {
	mu    sync.Mutex
	calls []genCall
	fn    func(call int, system, userText string) (string, error)
}

func (g *fakeGenerator) Generate(_ context.Context, system string, history []*ai.Message, userText string) (string, error) {
	g.mu.Lock()
	n := len(g.calls)
	g.calls = append(g.calls, genCall{system: system, history: len(history), userText: userText})
	g.mu.Unlock()

	if g.fn != nil {
		return g.fn(n, system, userText)
	}
	return "generated answer [S1]", nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGenerator) call(i int) genCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[i]
}

// fakeSearcher returns canned fragments and records queries.
type fakeSearcher struct {
	mu        sync.Mutex
	fragments []knowledge.Fragment
	err       error
	queries   []string
}

func (s *fakeSearcher) Search(_ context.Context, query string, _ int) ([]knowledge.Fragment, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.fragments, nil
}

func (s *fakeSearcher) lastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return ""
	}
	return s.queries[len(s.queries)-1]
}

func evidence(sources ...string) []knowledge.Fragment {
	frags := make([]knowledge.Fragment, len(sources))
	for i, src := range sources {
		frags[i] = knowledge.Fragment{
			Content:  "content from " + src,
			SourceID: src,
			Score:    1.0 - float32(i)*0.1,
		}
	}
	return frags
}

func newTestStore() *session.Store {
	return session.NewStore(session.Config{
		SummaryTriggerTokens: 100000,
		RecentTurnsKept:      6,
		MaxSessions:          100,
	}, nil, log.NewNop())
}

func newTestPipeline(t *testing.T, g Generator, s Searcher, store SessionStore) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Generator:          g,
		Searcher:           s,
		Sessions:           store,
		TopK:               3,
		MaxAnswerSentences: 8,
		Timeout:            5 * time.Second,
		Logger:             log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestHandleMessage_FirstTurnSkipsRewrite(t *testing.T) {
	g := &fakeGenerator{}
	s := &fakeSearcher{fragments: evidence("doc.md")}
	p := newTestPipeline(t, g, s, newTestStore())

	res, err := p.HandleMessage(context.Background(), "u1", "What is photosynthesis?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if res.ContextualizedQuery != "What is photosynthesis?" {
		t.Errorf("contextualized = %q, want original question", res.ContextualizedQuery)
	}
	if s.lastQuery() != "What is photosynthesis?" {
		t.Errorf("search query = %q, want original question", s.lastQuery())
	}
	// Only the synthesis call; no rewrite call for an empty history.
	if g.callCount() != 1 {
		t.Errorf("generator calls = %d, want 1", g.callCount())
	}
}

func TestHandleMessage_RewrittenQueryReachesSearch(t *testing.T) {
	g := &fakeGenerator{fn: func(call int, _, _ string) (string, error) {
		if call == 0 {
			return "What are the opening hours of the Vatican Museums?", nil
		}
		return "They open at 9am. [S1]", nil
	}}
	s := &fakeSearcher{fragments: evidence("museums.md")}
	store := newTestStore()
	store.Append("u1",
		session.NewTurn(session.RoleUser, "Tell me about the Vatican Museums"),
		session.NewTurn(session.RoleAssistant, "The Vatican Museums hold the papal art collections."),
	)
	p := newTestPipeline(t, g, s, store)

	res, err := p.HandleMessage(context.Background(), "u1", "What are the opening hours?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if !strings.Contains(s.lastQuery(), "Vatican Museums") {
		t.Errorf("search query %q lost the resolved reference", s.lastQuery())
	}
	if res.ContextualizedQuery != s.lastQuery() {
		t.Errorf("result exposes %q but search used %q", res.ContextualizedQuery, s.lastQuery())
	}
	// Rewrite call sees the prior turns.
	if got := g.call(0); got.history != 2 {
		t.Errorf("rewrite history length = %d, want 2", got.history)
	}
}

func TestHandleMessage_SynthesisAnswersOriginalQuestion(t *testing.T) {
	g := &fakeGenerator{fn: func(call int, _, _ string) (string, error) {
		if call == 0 {
			return "What is the deadline of Project X?", nil
		}
		return "March. [S1]", nil
	}}
	s := &fakeSearcher{fragments: evidence("plan.md")}
	store := newTestStore()
	store.Append("u1",
		session.NewTurn(session.RoleUser, "Tell me about Project X"),
		session.NewTurn(session.RoleAssistant, "Project X is the migration effort."),
	)
	p := newTestPipeline(t, g, s, store)

	if _, err := p.HandleMessage(context.Background(), "u1", "When is the deadline?"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	// The synthesis call receives the question as typed, not the rewrite.
	if got := g.call(1); got.userText != "When is the deadline?" {
		t.Errorf("synthesis userText = %q, want original question", got.userText)
	}
}

func TestHandleMessage_NoEvidenceRefusal(t *testing.T) {
	g := &fakeGenerator{}
	s := &fakeSearcher{} // empty index
	store := newTestStore()
	p := newTestPipeline(t, g, s, store)

	res, err := p.HandleMessage(context.Background(), "u1", "What is phlogiston?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if res.Answer != refusalAnswer {
		t.Errorf("answer = %q, want refusal", res.Answer)
	}
	if len(res.CitedSources) != 0 {
		t.Errorf("cited = %v, want none", res.CitedSources)
	}
	// No synthesis model call with zero evidence.
	if g.callCount() != 0 {
		t.Errorf("generator calls = %d, want 0", g.callCount())
	}
	// Refusal is a normal outcome and still commits the exchange.
	if got := len(store.Get("u1").Turns); got != 2 {
		t.Errorf("turns = %d, want 2", got)
	}
}

func TestHandleMessage_CitationsSubsetOfEvidence(t *testing.T) {
	g := &fakeGenerator{fn: func(int, string, string) (string, error) {
		// Valid markers for fragments 1 and 3, plus one out of range.
		return "Alpha fact. [S1] Gamma fact. [S3] Bogus. [S9]", nil
	}}
	s := &fakeSearcher{fragments: evidence("alpha.md", "beta.md", "gamma.md")}
	p := newTestPipeline(t, g, s, newTestStore())

	res, err := p.HandleMessage(context.Background(), "u1", "facts?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	want := map[string]bool{"alpha.md": true, "gamma.md": true}
	if len(res.CitedSources) != len(want) {
		t.Fatalf("cited = %v, want alpha.md and gamma.md", res.CitedSources)
	}
	for _, src := range res.CitedSources {
		if !want[src] {
			t.Errorf("cited %q is not a retrieved source", src)
		}
	}
	if strings.Contains(res.Answer, "[S") {
		t.Errorf("answer %q retains citation markers", res.Answer)
	}
}

func TestHandleMessage_UnmarkedAnswerCreditsAllSources(t *testing.T) {
	g := &fakeGenerator{fn: func(int, string, string) (string, error) {
		return "An answer with no markers.", nil
	}}
	s := &fakeSearcher{fragments: evidence("a.md", "b.md", "a.md")}
	p := newTestPipeline(t, g, s, newTestStore())

	res, err := p.HandleMessage(context.Background(), "u1", "question?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(res.CitedSources) != 2 {
		t.Errorf("cited = %v, want deduplicated [a.md b.md]", res.CitedSources)
	}
}

func TestHandleMessage_RewriteFailureDegrades(t *testing.T) {
	g := &fakeGenerator{fn: func(call int, _, _ string) (string, error) {
		if call == 0 {
			return "", errors.New("model overloaded")
		}
		return "Answer. [S1]", nil
	}}
	s := &fakeSearcher{fragments: evidence("doc.md")}
	store := newTestStore()
	store.Append("u1",
		session.NewTurn(session.RoleUser, "earlier question"),
		session.NewTurn(session.RoleAssistant, "earlier answer"),
	)
	p := newTestPipeline(t, g, s, store)

	res, err := p.HandleMessage(context.Background(), "u1", "And the second part?")
	if err != nil {
		t.Fatalf("rewrite failure should not fail the run: %v", err)
	}
	if s.lastQuery() != "And the second part?" {
		t.Errorf("search query = %q, want original question fallback", s.lastQuery())
	}
	if res.ContextualizedQuery != "And the second part?" {
		t.Errorf("contextualized = %q, want original question", res.ContextualizedQuery)
	}
}

func TestHandleMessage_RetrievalUnavailable(t *testing.T) {
	g := &fakeGenerator{}
	s := &fakeSearcher{err: errors.New("connection refused")}
	store := newTestStore()
	p := newTestPipeline(t, g, s, store)

	_, err := p.HandleMessage(context.Background(), "u1", "question?")
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("err = %v, want ErrRetrievalUnavailable", err)
	}
	if Classify(err) != KindRetrieval {
		t.Errorf("Classify = %q, want %q", Classify(err), KindRetrieval)
	}
	if got := len(store.Get("u1").Turns); got != 0 {
		t.Errorf("failed run committed %d turns", got)
	}
}

func TestHandleMessage_GenerationUnavailable(t *testing.T) {
	g := &fakeGenerator{fn: func(int, string, string) (string, error) {
		return "", errors.New("500 internal")
	}}
	s := &fakeSearcher{fragments: evidence("doc.md")}
	store := newTestStore()
	p := newTestPipeline(t, g, s, store)

	_, err := p.HandleMessage(context.Background(), "u1", "question?")
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("err = %v, want ErrGenerationUnavailable", err)
	}
	if got := len(store.Get("u1").Turns); got != 0 {
		t.Errorf("failed run committed %d turns", got)
	}
}

func TestHandleMessage_TimeoutCommitsNothing(t *testing.T) {
	s := &fakeSearcher{fragments: evidence("doc.md")}
	store := newTestStore()
	store.Append("u1",
		session.NewTurn(session.RoleUser, "q"),
		session.NewTurn(session.RoleAssistant, "a"),
	)
	before := len(store.Get("u1").Turns)

	p, err := New(Config{
		Generator: &fakeGenerator{fn: func(int, string, string) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "", context.DeadlineExceeded
		}},
		Searcher:           s,
		Sessions:           store,
		TopK:               3,
		MaxAnswerSentences: 8,
		Timeout:            10 * time.Millisecond,
		Logger:             log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.HandleMessage(context.Background(), "u1", "slow question?")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if Classify(err) != KindTimeout {
		t.Errorf("Classify = %q, want %q", Classify(err), KindTimeout)
	}
	if got := len(store.Get("u1").Turns); got != before {
		t.Errorf("turns = %d, want %d (no partial commit)", got, before)
	}
}

func TestHandleMessage_SessionIsolation(t *testing.T) {
	g := &fakeGenerator{fn: func(int, string, string) (string, error) {
		return "answer [S1]", nil
	}}
	s := &fakeSearcher{fragments: evidence("doc.md")}
	store := newTestStore()
	p := newTestPipeline(t, g, s, store)

	if _, err := p.HandleMessage(context.Background(), "alice", "alice question?"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.HandleMessage(context.Background(), "bob", "bob question?"); err != nil {
		t.Fatal(err)
	}

	alice := store.Get("alice")
	bob := store.Get("bob")
	if len(alice.Turns) != 2 || len(bob.Turns) != 2 {
		t.Fatalf("turns = %d/%d, want 2/2", len(alice.Turns), len(bob.Turns))
	}
	if alice.Turns[0].Text != "alice question?" || bob.Turns[0].Text != "bob question?" {
		t.Error("sessions leaked across users")
	}
}

func TestHandleMessage_MultiTurnDisambiguation(t *testing.T) {
	g := &fakeGenerator{fn: func(call int, _, userText string) (string, error) {
		switch {
		case strings.Contains(userText, "Who is Luca"):
			return "Luca is the course instructor. [S1]", nil
		case userText == "What is his LinkedIn profile?":
			return "What is Luca's LinkedIn profile?", nil
		default:
			return "linkedin.com/in/luca. [S1]", nil
		}
	}}
	s := &fakeSearcher{fragments: evidence("people.md")}
	store := newTestStore()
	p := newTestPipeline(t, g, s, store)

	if _, err := p.HandleMessage(context.Background(), "u1", "Who is Luca?"); err != nil {
		t.Fatal(err)
	}
	res, err := p.HandleMessage(context.Background(), "u1", "What is his LinkedIn profile?")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(res.ContextualizedQuery, "Luca") {
		t.Errorf("contextualized = %q, reference not resolved", res.ContextualizedQuery)
	}
	if !strings.Contains(s.lastQuery(), "Luca") {
		t.Errorf("search query = %q, reference not resolved", s.lastQuery())
	}
	if got := len(store.Get("u1").Turns); got != 4 {
		t.Errorf("turns = %d, want 4", got)
	}
}

func TestHandleMessage_SummaryVisibleToRewriteAfterTrim(t *testing.T) {
	summarizer := summarizeFunc(func(_ context.Context, transcript string) (string, error) {
		if !strings.Contains(transcript, "Project X") {
			return "", errors.New("transcript lost the entity under test")
		}
		return "The user asked about Project X, the data platform migration.", nil
	})
	store := session.NewStore(session.Config{
		SummaryTriggerTokens: 10,
		RecentTurnsKept:      2,
		MaxSessions:          100,
	}, summarizer, log.NewNop())

	g := &fakeGenerator{fn: func(call int, system, userText string) (string, error) {
		if userText == "tell me more about it" {
			// The rewrite prompt must carry the trimmed-away entity.
			if !strings.Contains(system, "Project X") {
				return "", errors.New("summary missing from rewrite prompt")
			}
			return "Tell me more about Project X", nil
		}
		return "answer [S1]", nil
	}}
	s := &fakeSearcher{fragments: evidence("docs.md")}
	p := newTestPipeline(t, g, s, store)

	ctx := context.Background()
	if _, err := p.HandleMessage(ctx, "u1", "Explain Project X goals and scope in detail"); err != nil {
		t.Fatal(err)
	}
	// Enough traffic to push past the token budget and trigger a trim.
	for i := 0; i < 3; i++ {
		if _, err := p.HandleMessage(ctx, "u1", "Please elaborate further on the previous point with more detail"); err != nil {
			t.Fatal(err)
		}
	}

	sess := store.Get("u1")
	if sess.Summary == "" {
		t.Fatal("trim never produced a summary")
	}

	res, err := p.HandleMessage(ctx, "u1", "tell me more about it")
	if err != nil {
		t.Fatalf("post-trim follow-up failed: %v", err)
	}
	if !strings.Contains(res.ContextualizedQuery, "Project X") {
		t.Errorf("contextualized = %q, entity not resolvable after trim", res.ContextualizedQuery)
	}
}

type summarizeFunc func(ctx context.Context, transcript string) (string, error)

func (f summarizeFunc) Summarize(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

func TestHandleMessage_InputValidation(t *testing.T) {
	p := newTestPipeline(t, &fakeGenerator{}, &fakeSearcher{}, newTestStore())

	if _, err := p.HandleMessage(context.Background(), "u1", "   "); err == nil {
		t.Error("blank question succeeded, want error")
	}
	if _, err := p.HandleMessage(context.Background(), "", "question?"); err == nil {
		t.Error("empty user id succeeded, want error")
	}
}

func TestReset(t *testing.T) {
	g := &fakeGenerator{}
	s := &fakeSearcher{fragments: evidence("doc.md")}
	store := newTestStore()
	p := newTestPipeline(t, g, s, store)

	if _, err := p.HandleMessage(context.Background(), "u1", "question?"); err != nil {
		t.Fatal(err)
	}
	p.Reset("u1")
	if !store.Get("u1").Empty() {
		t.Error("session not empty after Reset")
	}
}

func TestHandleMessage_ConcurrentUsers(t *testing.T) {
	g := &fakeGenerator{fn: func(int, string, string) (string, error) {
		return "answer [S1]", nil
	}}
	s := &fakeSearcher{fragments: evidence("doc.md")}
	store := newTestStore()
	p := newTestPipeline(t, g, s, store)

	const users = 10
	const messages = 5
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			userID := "user-" + strconv.Itoa(u)
			for m := 0; m < messages; m++ {
				if _, err := p.HandleMessage(context.Background(), userID, "question?"); err != nil {
					t.Errorf("user %s: %v", userID, err)
					return
				}
			}
		}(u)
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		userID := "user-" + strconv.Itoa(u)
		if got := len(store.Get(userID).Turns); got != 2*messages {
			t.Errorf("%s turns = %d, want %d", userID, got, 2*messages)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, KindNone},
		{"timeout", ErrTimeout, KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"retrieval", ErrRetrievalUnavailable, KindRetrieval},
		{"generation", ErrGenerationUnavailable, KindGeneration},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
