package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/partypen/go-backend/internal/evaluate"
	"github.com/danielpatrickdp/partypen/go-backend/internal/logging"
	"github.com/danielpatrickdp/partypen/go-backend/internal/memory"
	"github.com/danielpatrickdp/partypen/go-backend/internal/model"
	"github.com/danielpatrickdp/partypen/go-backend/internal/news"
	"github.com/danielpatrickdp/partypen/go-backend/internal/prompt"
	"github.com/danielpatrickdp/partypen/go-backend/internal/quota"
	"github.com/danielpatrickdp/partypen/go-backend/internal/ranker"
	"github.com/danielpatrickdp/partypen/go-backend/internal/store"
	"github.com/danielpatrickdp/partypen/go-backend/internal/style"
	"github.com/danielpatrickdp/partypen/go-backend/internal/verify"
)

// #region harness

const (
	testUser    = "user-1"
	testContent = "Rents rose twelve percent this year across the city. The council plans four thousand new homes by 2028."
	judgeJSON   = `{"rankings":[{"candidateIndex":0,"totalScore":20},{"candidateIndex":1,"totalScore":40},{"candidateIndex":2,"totalScore":30}],"bestIndex":1}`
)

// scriptGen answers model calls by tag.
type scriptGen struct {
	light  func(slot int, prompt string) (string, error)
	judge  func() (string, error)
	direct func() (string, error)
	verify func() (string, error)

	mu           sync.Mutex
	lightPrompts []string
}

func (g *scriptGen) Generate(ctx context.Context, req model.Request) (string, error) {
	var slot int
	if _, err := fmt.Sscanf(req.Tag, "light/%d", &slot); err == nil {
		g.mu.Lock()
		g.lightPrompts = append(g.lightPrompts, req.Prompt)
		g.mu.Unlock()
		if g.light == nil {
			return fmt.Sprintf("Draft %d: housing costs keep climbing and families need homes they can afford.", slot), nil
		}
		return g.light(slot, req.Prompt)
	}
	var fn func() (string, error)
	switch req.Tag {
	case "judge":
		fn = g.judge
	case "direct":
		fn = g.direct
	case "verify":
		fn = g.verify
	}
	if fn == nil {
		if req.Tag == "judge" {
			return judgeJSON, nil
		}
		return "", errors.New("unscripted call " + req.Tag)
	}
	return fn()
}

func (g *scriptGen) prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.lightPrompts...)
}

type harness struct {
	svc     *Service
	store   *store.Store
	handler http.Handler
}

func newHarness(t *testing.T, gen model.Generator, mutate func(*Deps)) *harness {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mem, err := memory.NewPhraseMemory(st.DB())
	if err != nil {
		t.Fatalf("NewPhraseMemory: %v", err)
	}

	rcfg := ranker.Config{
		CandidateCount:             3,
		LightModel:                 "light-test",
		HeavyModel:                 "heavy-test",
		LightTimeout:               time.Second,
		HeavyTimeout:               time.Second,
		DirectTimeout:              time.Second,
		MinCandidatesForHeavyStage: 2,
		LightTemperature:           0.9,
		HeavyTemperature:           0.2,
		DirectTemperature:          0.6,
		LightMaxTokens:             256,
		HeavyMaxTokens:             512,
	}
	vcfg := verify.DefaultConfig("heavy-test")
	vcfg.Timeout = time.Second

	ncfg := news.Config{
		Enabled:         true,
		MaxItems:        5,
		Timeout:         time.Second,
		MaxChars:        2000,
		MaxSummaryChars: 280,
		MinOverlap:      1,
		Parallelism:     2,
	}

	deps := Deps{
		Store:    st,
		Ranker:   ranker.New(gen, rcfg, nil),
		Quota:    quota.NewGate(st, quota.Config{TrialLimit: 10, TrialDays: 7, MonthlyLimit: 300}),
		Verifier: verify.New(gen, st, vcfg),
		Memory:   mem,
		Fetcher:  news.NewFetcher(ncfg),
		News:     ncfg,
		Config:   Config{MaxRetries: 1, PhraseCount: 5, MaxCandidates: 10, MaxContentChars: 20000},
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc := NewService(deps)
	mux := http.NewServeMux()
	RegisterRoutes(mux, svc)
	return &harness{svc: svc, store: st, handler: mux}
}

func (h *harness) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// #endregion

// #region health-auth

func TestHealth(t *testing.T) {
	h := newHarness(t, &scriptGen{}, nil)
	w := h.do(t, "GET", "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if len(resp.Platforms) != len(prompt.Names()) {
		t.Errorf("expected %d platforms, got %v", len(prompt.Names()), resp.Platforms)
	}
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t, &scriptGen{}, nil)
	for _, tc := range []struct{ method, path string }{
		{"POST", "/v1/generate"},
		{"GET", "/v1/usage"},
		{"POST", "/v1/verify"},
		{"POST", "/v1/style"},
		{"GET", "/v1/memory"},
		{"POST", "/v1/memory/feedback"},
	} {
		w := h.do(t, tc.method, tc.path, "", map[string]any{})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestInvalidJSON(t *testing.T) {
	h := newHarness(t, &scriptGen{}, nil)
	req := httptest.NewRequest("POST", "/v1/generate", strings.NewReader("{not json"))
	req.Header.Set(UserHeader, testUser)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != http.StatusBadRequest {
		t.Errorf("expected code 400 in body, got %d", resp.Code)
	}
}

// #endregion

// #region generate

func TestGenerate_Scored(t *testing.T) {
	gen := &scriptGen{}
	h := newHarness(t, gen, nil)

	w := h.do(t, "POST", "/v1/generate", testUser, GenerateRequest{Platform: "x", Content: testContent})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[GenerateResponse](t, w)

	if !strings.HasPrefix(resp.Text, "Draft 1:") {
		t.Errorf("expected the judge's pick, got %q", resp.Text)
	}
	if resp.Ranking.Path != ranker.PathScored || resp.Ranking.BestIndex != 1 {
		t.Errorf("expected scored path with best 1, got %s/%d", resp.Ranking.Path, resp.Ranking.BestIndex)
	}
	if resp.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", resp.Attempts)
	}
	if !resp.Evaluation.Usable() {
		t.Errorf("expected usable evaluation, got %+v", resp.Evaluation)
	}
	if resp.Usage.Plan != quota.PlanTrial || resp.Usage.Used != 1 || resp.Usage.Remaining != 9 {
		t.Errorf("expected trial usage 1/10, got %+v", resp.Usage)
	}

	entries, err := logging.ListSelections(h.store.DB(), testUser, 10)
	if err != nil {
		t.Fatalf("ListSelections: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != string(ranker.PathScored) || entries[0].RankingsJSON == "" {
		t.Errorf("expected one scored selection_log row with rankings, got %+v", entries)
	}

	mem, err := h.svc.Memory(testUser, "x", 5)
	if err != nil {
		t.Fatalf("Memory: %v", err)
	}
	if len(mem.Phrases) == 0 {
		t.Error("expected the selected post to be remembered")
	}
}

func TestGenerate_AllPathsFailedConsumesNothing(t *testing.T) {
	gen := &scriptGen{
		light:  func(int, string) (string, error) { return "", errors.New("light down") },
		direct: func() (string, error) { return "", errors.New("heavy down") },
	}
	h := newHarness(t, gen, nil)

	w := h.do(t, "POST", "/v1/generate", testUser, GenerateRequest{Platform: "x", Content: testContent})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[GenerateResponse](t, w)
	if resp.Text != "" {
		t.Errorf("expected empty text, got %q", resp.Text)
	}
	if resp.Ranking.Path != ranker.PathFailed || resp.Ranking.Reason == "" {
		t.Errorf("expected failed path with a reason, got %+v", resp.Ranking)
	}
	if resp.Attempts != 1 {
		t.Errorf("failed generation should not retry, got %d attempts", resp.Attempts)
	}

	used, err := h.store.CountUsage(testUser, quota.KindGenerate, time.Time{})
	if err != nil {
		t.Fatalf("CountUsage: %v", err)
	}
	if used != 0 {
		t.Errorf("expected no quota consumed, got %d", used)
	}
}

func TestGenerate_QuotaExceeded(t *testing.T) {
	h := newHarness(t, &scriptGen{}, func(d *Deps) {
		d.Quota = quota.NewGate(d.Store, quota.Config{TrialLimit: 1, TrialDays: 7, MonthlyLimit: 300})
	})
	req := GenerateRequest{Platform: "x", Content: testContent}

	if w := h.do(t, "POST", "/v1/generate", testUser, req); w.Code != http.StatusOK {
		t.Fatalf("first generate: expected 200, got %d", w.Code)
	}
	w := h.do(t, "POST", "/v1/generate", testUser, req)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("second generate: expected 402, got %d", w.Code)
	}
	resp := decode[GenerateResponse](t, w)
	if resp.Usage.Allowed || resp.Usage.Reason != "trial limit reached" {
		t.Errorf("expected denied usage decision, got %+v", resp.Usage)
	}
	if resp.Text != "" {
		t.Errorf("denied request should carry no text, got %q", resp.Text)
	}
}

func TestGenerate_ConcurrentRequestsRespectTrialLimit(t *testing.T) {
	gen := &scriptGen{
		light: func(slot int, _ string) (string, error) {
			time.Sleep(100 * time.Millisecond)
			return fmt.Sprintf("Draft %d: housing costs keep climbing and families need homes they can afford.", slot), nil
		},
	}
	h := newHarness(t, gen, func(d *Deps) {
		d.Quota = quota.NewGate(d.Store, quota.Config{TrialLimit: 1, TrialDays: 7, MonthlyLimit: 300})
	})

	const callers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		served  int
		denied  int
		failure []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.svc.Generate(context.Background(), testUser, GenerateRequest{Platform: "x", Content: testContent})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, quota.ErrQuotaExceeded):
				denied++
			case err != nil:
				failure = append(failure, err)
			case resp.Text != "":
				served++
			}
		}()
	}
	wg.Wait()

	if len(failure) > 0 {
		t.Fatalf("unexpected errors: %v", failure)
	}
	if served != 1 || denied != callers-1 {
		t.Errorf("expected 1 served and %d denied, got %d served and %d denied", callers-1, served, denied)
	}
	used, err := h.store.CountUsage(testUser, quota.KindGenerate, time.Time{})
	if err != nil {
		t.Fatalf("CountUsage: %v", err)
	}
	if used != 1 {
		t.Errorf("expected exactly one usage event, got %d", used)
	}
	entries, err := logging.ListSelections(h.store.DB(), testUser, 10)
	if err != nil {
		t.Fatalf("ListSelections: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected one selection_log row, got %d", len(entries))
	}
}

func TestGenerate_FailedGenerationFreesTheSlot(t *testing.T) {
	fail := true
	gen := &scriptGen{
		light: func(slot int, _ string) (string, error) {
			if fail {
				return "", errors.New("light down")
			}
			return fmt.Sprintf("Draft %d: housing costs keep climbing and families need homes they can afford.", slot), nil
		},
		direct: func() (string, error) { return "", errors.New("heavy down") },
	}
	h := newHarness(t, gen, func(d *Deps) {
		d.Quota = quota.NewGate(d.Store, quota.Config{TrialLimit: 1, TrialDays: 7, MonthlyLimit: 300})
	})
	req := GenerateRequest{Platform: "x", Content: testContent}

	resp, err := h.svc.Generate(context.Background(), testUser, req)
	if err != nil {
		t.Fatalf("failed generation: %v", err)
	}
	if resp.Text != "" || resp.Usage.Used != 0 || !resp.Usage.Allowed {
		t.Fatalf("expected empty text with the slot returned, got %q %+v", resp.Text, resp.Usage)
	}

	fail = false
	resp, err = h.svc.Generate(context.Background(), testUser, req)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if resp.Text == "" || resp.Usage.Used != 1 || resp.Usage.Allowed {
		t.Errorf("expected text using the only trial slot, got %q %+v", resp.Text, resp.Usage)
	}
}

func TestGenerate_RetriesOverLimit(t *testing.T) {
	long := strings.Repeat("Affordable homes now for every family in this city ", 8)
	gen := &scriptGen{
		light: func(_ int, p string) (string, error) {
			if strings.Contains(p, "Stay under 280") {
				return "Rents are up and the council has a plan. Four thousand homes by 2028.", nil
			}
			return long, nil
		},
	}
	h := newHarness(t, gen, nil)

	resp, err := h.svc.Generate(context.Background(), testUser, GenerateRequest{Platform: "x", Content: testContent, CandidateCount: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", resp.Attempts)
	}
	if !resp.Evaluation.Usable() || !strings.HasPrefix(resp.Text, "Rents are up") {
		t.Errorf("expected the corrected draft, got %q (%+v)", resp.Text, resp.Evaluation)
	}
	if resp.Ranking.Path != ranker.PathInsufficient {
		t.Errorf("one candidate should skip the heavy stage, got %s", resp.Ranking.Path)
	}
}

func TestGenerate_KeepsBestWhenRetryDoesNotHelp(t *testing.T) {
	long := strings.Repeat("Affordable homes now for every family in this city ", 8)
	gen := &scriptGen{light: func(int, string) (string, error) { return long, nil }}
	h := newHarness(t, gen, func(d *Deps) { d.Config.MaxRetries = 3 })

	resp, err := h.svc.Generate(context.Background(), testUser, GenerateRequest{Platform: "x", Content: testContent, CandidateCount: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// The same correction is never repeated, so only one retry happens.
	if resp.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", resp.Attempts)
	}
	if resp.Evaluation.Failure != evaluate.FailureOverLimit || resp.Text == "" {
		t.Errorf("expected the over-limit draft to be returned, got %+v", resp.Evaluation)
	}
	if resp.Usage.Used != 1 {
		t.Errorf("text was produced, expected quota consumed, got %+v", resp.Usage)
	}
}

func TestGenerate_ContextInPrompt(t *testing.T) {
	gen := &scriptGen{
		verify: func() (string, error) {
			return `{"isMembershipDocument":true,"party":"Green Party","confidence":0.95,"reason":"valid card"}`, nil
		},
	}
	h := newHarness(t, gen, nil)
	ctx := context.Background()

	if _, err := h.svc.Verify(ctx, testUser, VerifyRequest{Filename: "card.png", Text: "GREEN PARTY membership card 2026"}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	samples := []string{"We did it! Huge win for renters tonight!", "Proud of this team! Let's keep going!"}
	if _, err := h.svc.Style(testUser, StyleRequest{Samples: samples, Save: true}); err != nil {
		t.Fatalf("Style: %v", err)
	}

	if _, err := h.svc.Generate(ctx, testUser, GenerateRequest{Platform: "x", Content: testContent, Instructions: "Keep it upbeat"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	prompts := gen.prompts()
	if len(prompts) == 0 {
		t.Fatal("no light prompts recorded")
	}
	p := prompts[0]
	for _, want := range []string{"Green Party", "Keep it upbeat", testContent} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestGenerate_NewsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>Desk</title>
<item><title>Council approves new homes plan</title><link>http://example.com/homes</link><description>Four thousand homes by 2028.</description></item>
<item><title>Zoo welcomes penguins</title><link>http://example.com/zoo</link></item>
</channel></rss>`))
	}))
	t.Cleanup(srv.Close)

	gen := &scriptGen{}
	h := newHarness(t, gen, func(d *Deps) { d.News.Feeds = []string{srv.URL} })

	resp, err := h.svc.Generate(context.Background(), testUser, GenerateRequest{Platform: "x", Content: testContent, UseNews: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.NewsItems != 1 {
		t.Errorf("expected 1 relevant news item, got %d", resp.NewsItems)
	}
	if p := gen.prompts()[0]; !strings.Contains(p, "Council approves new homes plan") {
		t.Errorf("news item missing from prompt:\n%s", p)
	}
}

func TestGenerate_Validation(t *testing.T) {
	h := newHarness(t, &scriptGen{}, nil)
	for name, req := range map[string]GenerateRequest{
		"unknown platform": {Platform: "myspace", Content: testContent},
		"empty content":    {Platform: "x", Content: "  "},
		"too many":         {Platform: "x", Content: testContent, CandidateCount: 50},
	} {
		w := h.do(t, "POST", "/v1/generate", testUser, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
		}
	}
}

// #endregion

// #region other-endpoints

func TestUsage(t *testing.T) {
	h := newHarness(t, &scriptGen{}, nil)
	w := h.do(t, "GET", "/v1/usage", testUser, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	d := decode[quota.Decision](t, w)
	if !d.Allowed || d.Plan != quota.PlanTrial || d.Limit != 10 {
		t.Errorf("expected fresh trial, got %+v", d)
	}
}

func TestVerify(t *testing.T) {
	gen := &scriptGen{
		verify: func() (string, error) {
			return `{"isMembershipDocument":true,"party":"Green Party","confidence":0.9,"reason":"card"}`, nil
		},
	}
	h := newHarness(t, gen, nil)

	w := h.do(t, "POST", "/v1/verify", testUser, VerifyRequest{Filename: "card.png", Text: "Green Party member", ExpectedParty: "Green Party"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[VerifyResponse](t, w)
	if resp.Status != string(store.StatusApproved) || resp.ID == "" {
		t.Errorf("expected approved verification, got %+v", resp)
	}
	acct, err := h.store.GetAccount(testUser)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !acct.Verified || acct.Party != "Green Party" {
		t.Errorf("expected verified Green Party account, got %+v", acct)
	}
	n, err := h.store.CountUsage(testUser, quota.KindVerify, time.Time{})
	if err != nil || n != 1 {
		t.Errorf("expected one verify usage event, got %d (%v)", n, err)
	}

	w = h.do(t, "POST", "/v1/verify", testUser, VerifyRequest{Filename: "blank.png", Text: "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty document: expected 400, got %d", w.Code)
	}
}

func TestStyle(t *testing.T) {
	h := newHarness(t, &scriptGen{}, nil)

	w := h.do(t, "POST", "/v1/style", testUser, StyleRequest{Samples: []string{"", " "}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank samples: expected 400, got %d", w.Code)
	}

	w = h.do(t, "POST", "/v1/style", testUser, StyleRequest{Samples: []string{"We must act now. The deadline is today."}, Save: true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[StyleResponse](t, w)
	if !resp.Saved || resp.Description == "" || resp.Profile.Samples != 1 {
		t.Errorf("unexpected style response %+v", resp)
	}
	if _, ok, err := style.LoadProfile(h.store, testUser); err != nil || !ok {
		t.Errorf("expected saved profile, ok=%v err=%v", ok, err)
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	h := newHarness(t, &scriptGen{}, nil)
	w := h.do(t, "POST", "/v1/evaluate", "", EvaluateRequest{Platform: "x", Text: "I cannot help with that request."})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	ev := decode[evaluate.Evaluation](t, w)
	if ev.Failure != evaluate.FailureRefusal {
		t.Errorf("expected refusal, got %s", ev.Failure)
	}
}

func TestNewsEndpoint_NoFeeds(t *testing.T) {
	h := newHarness(t, &scriptGen{}, nil)
	w := h.do(t, "POST", "/v1/news", "", NewsRequest{Query: "housing"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without feeds, got %d", w.Code)
	}
}

func TestMemoryFeedbackAndForget(t *testing.T) {
	h := newHarness(t, &scriptGen{}, nil)

	w := h.do(t, "POST", "/v1/memory/feedback", testUser, FeedbackRequest{Phrase: "#HomesForAll", Liked: true})
	if w.Code != http.StatusNoContent {
		t.Fatalf("feedback: expected 204, got %d", w.Code)
	}
	w = h.do(t, "GET", "/v1/memory?platform=threads&k=3", testUser, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("memory: expected 200, got %d", w.Code)
	}
	mem := decode[MemoryResponse](t, w)
	if len(mem.Phrases) != 1 || mem.Phrases[0].Text != "#HomesForAll" {
		t.Errorf("expected liked phrase on any platform, got %+v", mem.Phrases)
	}

	w = h.do(t, "DELETE", "/v1/memory", testUser, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("forget: expected 200, got %d", w.Code)
	}
	if got := decode[ForgetResponse](t, w); got.Deleted != 1 {
		t.Errorf("expected 1 deleted row, got %d", got.Deleted)
	}

	w = h.do(t, "GET", "/v1/memory?k=-1", testUser, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative k: expected 400, got %d", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	h := newHarness(t, &scriptGen{}, nil)
	handler := CORSMiddleware(h.handler, "https://app.example.com")

	req := httptest.NewRequest("OPTIONS", "/v1/generate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected allowed origin echoed, got %q", got)
	}

	req = httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin should get no CORS header, got %q", got)
	}
}

// #endregion

// #region retry

func TestShouldRetry(t *testing.T) {
	x, _ := prompt.Lookup("x")
	over := attempt{text: "long", evaluation: evaluate.Evaluation{Failure: evaluate.FailureOverLimit, CharCount: 300}}
	ok := attempt{text: "fine", evaluation: evaluate.Evaluation{Failure: evaluate.FailureNone, Quality: 0.8}}
	empty := attempt{evaluation: evaluate.Evaluation{Failure: evaluate.FailureEmpty}}

	if retry, _ := shouldRetry([]attempt{ok}, 1, x); retry {
		t.Error("usable attempt should not retry")
	}
	if retry, _ := shouldRetry([]attempt{empty}, 1, x); retry {
		t.Error("empty attempt should not retry")
	}
	if retry, _ := shouldRetry([]attempt{over}, 0, x); retry {
		t.Error("zero retries allowed")
	}
	retry, correction := shouldRetry([]attempt{over}, 1, x)
	if !retry || !strings.Contains(correction, "Stay under 280") {
		t.Errorf("expected over-limit correction, got %v %q", retry, correction)
	}
	over2 := over
	over2.correction = correction
	if retry, _ := shouldRetry([]attempt{over, over2}, 5, x); retry {
		t.Error("same correction should not be repeated")
	}
}

func TestAttemptBetter(t *testing.T) {
	usable := attempt{text: "a", evaluation: evaluate.Evaluation{Failure: evaluate.FailureNone, Quality: 0.4}}
	failed := attempt{text: "b", evaluation: evaluate.Evaluation{Failure: evaluate.FailureEcho, Quality: 0.35}}
	none := attempt{evaluation: evaluate.Evaluation{Failure: evaluate.FailureEmpty}}

	if !usable.better(failed) || failed.better(usable) {
		t.Error("usable should beat failed")
	}
	if !failed.better(none) || none.better(failed) {
		t.Error("any text should beat no text")
	}
	if usable.better(usable) {
		t.Error("ties keep the earlier attempt")
	}
}

// #endregion
