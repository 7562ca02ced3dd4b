package api

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danielpatrickdp/partypen/go-backend/internal/evaluate"
	"github.com/danielpatrickdp/partypen/go-backend/internal/logging"
	"github.com/danielpatrickdp/partypen/go-backend/internal/memory"
	"github.com/danielpatrickdp/partypen/go-backend/internal/news"
	"github.com/danielpatrickdp/partypen/go-backend/internal/prompt"
	"github.com/danielpatrickdp/partypen/go-backend/internal/quota"
	"github.com/danielpatrickdp/partypen/go-backend/internal/ranker"
	"github.com/danielpatrickdp/partypen/go-backend/internal/store"
	"github.com/danielpatrickdp/partypen/go-backend/internal/style"
	"github.com/danielpatrickdp/partypen/go-backend/internal/verify"
)

// #endregion

// #region config

// Config holds request limits for the callable functions.
type Config struct {
	MaxRetries      int // extra generations after an unusable evaluation
	PhraseCount     int // remembered phrases offered to the prompt
	MaxCandidates   int
	MaxContentChars int
}

// DefaultConfig returns API defaults.
// Reads from env vars: API_MAX_RETRIES, API_PHRASES, API_MAX_CONTENT_CHARS.
func DefaultConfig() Config {
	cfg := Config{
		MaxRetries:      1,
		PhraseCount:     5,
		MaxCandidates:   10,
		MaxContentChars: 20000,
	}
	if n, err := strconv.Atoi(os.Getenv("API_MAX_RETRIES")); err == nil && n >= 0 {
		cfg.MaxRetries = n
	}
	if n, err := strconv.Atoi(os.Getenv("API_PHRASES")); err == nil && n >= 0 {
		cfg.PhraseCount = n
	}
	if n, err := strconv.Atoi(os.Getenv("API_MAX_CONTENT_CHARS")); err == nil && n > 0 {
		cfg.MaxContentChars = n
	}
	return cfg
}

// #endregion

// #region service

// Deps wires the service to its collaborators. Fetcher may be nil, in
// which case news context is never fetched.
type Deps struct {
	Store    *store.Store
	Ranker   *ranker.Ranker
	Quota    *quota.Gate
	Verifier *verify.Verifier
	Memory   *memory.PhraseMemory
	Fetcher  *news.Fetcher
	News     news.Config
	Sink     logging.Sink
	Config   Config
}

// Service implements the callable functions behind the HTTP handlers.
type Service struct {
	store    *store.Store
	ranker   *ranker.Ranker
	quota    *quota.Gate
	verifier *verify.Verifier
	memory   *memory.PhraseMemory
	fetcher  *news.Fetcher
	news     news.Config
	sink     logging.Sink
	config   Config
}

// NewService creates a Service from its dependencies.
func NewService(d Deps) *Service {
	sink := d.Sink
	if sink == nil {
		sink = logging.NopSink{}
	}
	return &Service{
		store:    d.Store,
		ranker:   d.Ranker,
		quota:    d.Quota,
		verifier: d.Verifier,
		memory:   d.Memory,
		fetcher:  d.Fetcher,
		news:     d.News,
		sink:     sink,
		config:   d.Config,
	}
}

// #endregion

// #region generate

// Generate runs the full pipeline: quota, context assembly, ranked
// generation, evaluation with bounded retry, then bookkeeping. One generation
// is reserved before any model call and released unless text was produced,
// so concurrent requests cannot overrun the plan. A failed generation is not
// an error; the response carries an empty Text and the ranking reason.
func (s *Service) Generate(ctx context.Context, userID string, req GenerateRequest) (GenerateResponse, error) {
	platform, err := s.validateGenerate(req)
	if err != nil {
		return GenerateResponse{}, err
	}

	decision, hold, err := s.quota.Reserve(ctx, userID)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("generate: %w", err)
	}
	if !decision.Allowed {
		log.Printf("[API] generate denied: user=%s plan=%s reason=%s", userID, decision.Plan, decision.Reason)
		return GenerateResponse{Usage: decision}, fmt.Errorf("%w: %s", quota.ErrQuotaExceeded, decision.Reason)
	}
	held := true
	release := func() {
		if !held {
			return
		}
		held = false
		if err := s.quota.Release(context.WithoutCancel(ctx), hold); err != nil {
			log.Printf("[API] quota release failed: user=%s: %v", userID, err)
		}
	}
	defer release()

	acct, err := s.store.GetAccount(userID)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("generate: %w", err)
	}

	in, newsCount := s.promptInput(ctx, userID, acct, platform, req)
	topic := style.ClassifyTopic(req.Content + "\n" + req.Instructions)
	in.Topic = string(topic)

	opts := ranker.Options{
		CandidateCount: req.CandidateCount,
		PlatformConfig: judgePlatformConfig(platform, req.PlatformConfig),
		UserInfo:       judgeUserInfo(acct, req.UserInfo),
	}

	var attempts []attempt
	correction := ""
	for {
		in.Correction = correction
		text, err := prompt.BuildGeneration(in)
		if err != nil {
			return GenerateResponse{}, fmt.Errorf("generate: %w", err)
		}
		sel := s.ranker.RankAndSelect(ctx, text, platform.Name, req.Content, opts)
		attempts = append(attempts, attempt{
			text:       sel.Text,
			ranking:    sel.Ranking,
			evaluation: evaluate.Evaluate(sel.Text, req.Content, platform),
			correction: correction,
		})

		retry, next := shouldRetry(attempts, s.config.MaxRetries, platform)
		if !retry {
			break
		}
		latest := attempts[len(attempts)-1]
		log.Printf("[API] retry: user=%s attempt=%d failure=%s quality=%.2f",
			userID, len(attempts), latest.evaluation.Failure, latest.evaluation.Quality)
		correction = next
	}

	best := attempts[0]
	for _, a := range attempts[1:] {
		if a.better(best) {
			best = a
		}
	}

	resp := GenerateResponse{
		Text:       best.text,
		Ranking:    best.ranking,
		Evaluation: best.evaluation,
		Usage:      decision,
		Topic:      topic,
		Attempts:   len(attempts),
		NewsItems:  newsCount,
	}

	s.logSelection(userID, platform.Name, best)
	s.sink.Emit("api.generate", map[string]any{
		"user_id":  userID,
		"platform": platform.Name,
		"path":     string(best.ranking.Path),
		"attempts": len(attempts),
		"quality":  best.evaluation.Quality,
		"failure":  string(best.evaluation.Failure),
		"topic":    string(topic),
	})

	if best.text == "" {
		log.Printf("[API] generate produced no text: user=%s reason=%s", userID, best.ranking.Reason)
		release()
		if after, err := s.quota.Check(ctx, userID); err == nil {
			resp.Usage = after
		}
		return resp, nil
	}

	held = false
	if err := s.memory.RecordSelection(userID, platform.Name, best.text, best.evaluation.Quality); err != nil {
		log.Printf("[API] memory record failed: user=%s: %v", userID, err)
	}
	if after, err := s.quota.Check(ctx, userID); err == nil {
		resp.Usage = after
	}

	log.Printf("[API] generate: user=%s platform=%s path=%s attempts=%d quality=%.2f chars=%d",
		userID, platform.Name, best.ranking.Path, len(attempts), best.evaluation.Quality, best.evaluation.CharCount)
	return resp, nil
}

func (s *Service) validateGenerate(req GenerateRequest) (prompt.Platform, error) {
	if strings.TrimSpace(req.Content) == "" {
		return prompt.Platform{}, fmt.Errorf("%w: content is required", ErrBadRequest)
	}
	if s.config.MaxContentChars > 0 && len([]rune(req.Content)) > s.config.MaxContentChars {
		return prompt.Platform{}, fmt.Errorf("%w: content exceeds %d characters", ErrBadRequest, s.config.MaxContentChars)
	}
	if req.CandidateCount < 0 || (s.config.MaxCandidates > 0 && req.CandidateCount > s.config.MaxCandidates) {
		return prompt.Platform{}, fmt.Errorf("%w: candidateCount must be between 0 and %d", ErrBadRequest, s.config.MaxCandidates)
	}
	platform, err := prompt.Lookup(req.Platform)
	if err != nil {
		return prompt.Platform{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return platform.WithOverrides(req.PlatformConfig), nil
}

// promptInput gathers the per-user context. Every source is optional: a
// failure is logged and the prompt is built without it.
func (s *Service) promptInput(ctx context.Context, userID string, acct store.Account, platform prompt.Platform, req GenerateRequest) (prompt.Input, int) {
	in := prompt.Input{
		Platform:     platform,
		Content:      req.Content,
		Instructions: req.Instructions,
	}
	if acct.Verified {
		in.Party = acct.Party
	}

	profile, ok, err := style.LoadProfile(s.store, userID)
	switch {
	case err != nil:
		log.Printf("[API] style profile unavailable: user=%s: %v", userID, err)
	case ok:
		in.StyleNote = profile.Describe()
	}

	phrases, err := s.memory.TopPhrases(userID, platform.Name, s.config.PhraseCount)
	if err != nil {
		log.Printf("[API] phrase memory unavailable: user=%s: %v", userID, err)
	}
	for _, p := range phrases {
		in.Phrases = append(in.Phrases, p.Text)
	}

	newsCount := 0
	if req.UseNews && s.fetcher != nil && len(s.news.Feeds) > 0 {
		query := req.NewsQuery
		if query == "" {
			query = req.Content
		}
		res, err := s.fetchNews(ctx, query, s.news.Feeds)
		if err != nil {
			log.Printf("[API] news skipped: user=%s: %v", userID, err)
		} else {
			in.NewsContext = news.FormatAsContext(res.Items)
			newsCount = len(res.Items)
		}
	}
	return in, newsCount
}

// judgePlatformConfig is the platform block shown to the judge: resolved
// limits first, then whatever the caller sent.
func judgePlatformConfig(p prompt.Platform, overrides map[string]any) map[string]any {
	out := map[string]any{
		"name":        p.Name,
		"maxChars":    p.MaxChars,
		"maxHashtags": p.MaxHashtags,
	}
	for k, v := range overrides {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func judgeUserInfo(acct store.Account, info map[string]any) map[string]any {
	out := make(map[string]any, len(info)+1)
	for k, v := range info {
		out[k] = v
	}
	if acct.Verified && acct.Party != "" {
		out["party"] = acct.Party
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *Service) logSelection(userID, platform string, best attempt) {
	rankings := ""
	if len(best.ranking.Rankings) > 0 {
		if data, err := json.Marshal(best.ranking.Rankings); err == nil {
			rankings = string(data)
		}
	}
	err := logging.LogSelection(s.store.DB(), logging.SelectionEntry{
		UserID:         userID,
		Platform:       platform,
		Path:           string(best.ranking.Path),
		CandidateCount: len(best.ranking.Candidates),
		BestIndex:      best.ranking.BestIndex,
		Reason:         best.ranking.Reason,
		Quality:        best.evaluation.Quality,
		ElapsedMS:      best.ranking.Elapsed.Milliseconds(),
		RankingsJSON:   rankings,
	})
	if err != nil {
		log.Printf("[API] selection log failed: user=%s: %v", userID, err)
	}
}

// #endregion

// #region usage

// Usage reports the caller's plan and remaining allowance.
func (s *Service) Usage(ctx context.Context, userID string) (quota.Decision, error) {
	return s.quota.Check(ctx, userID)
}

// #endregion

// #region verify

// Verify classifies a membership document and records a verify usage event.
func (s *Service) Verify(ctx context.Context, userID string, req VerifyRequest) (VerifyResponse, error) {
	v, err := s.verifier.Verify(ctx, userID, verify.Document{
		Filename:      req.Filename,
		MimeType:      req.MimeType,
		Text:          req.Text,
		ExpectedParty: req.ExpectedParty,
	})
	if err != nil {
		if errors.Is(err, verify.ErrEmptyDocument) {
			return VerifyResponse{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return VerifyResponse{}, err
	}
	if err := s.quota.Consume(ctx, userID, quota.KindVerify); err != nil {
		log.Printf("[API] consume failed: user=%s: %v", userID, err)
	}
	return VerifyResponse{
		ID:         v.ID,
		Status:     string(v.Status),
		Confidence: v.Confidence,
		Party:      v.Party,
		Reason:     v.Reason,
		CreatedAt:  v.CreatedAt,
	}, nil
}

// #endregion

// #region style

// Style classifies writing samples, optionally saving the profile so later
// generations use it.
func (s *Service) Style(userID string, req StyleRequest) (StyleResponse, error) {
	samples := make([]string, 0, len(req.Samples))
	for _, sample := range req.Samples {
		if strings.TrimSpace(sample) != "" {
			samples = append(samples, sample)
		}
	}
	if len(samples) == 0 {
		return StyleResponse{}, fmt.Errorf("%w: at least one sample is required", ErrBadRequest)
	}

	profile := style.ClassifyStyle(samples)
	resp := StyleResponse{Profile: profile, Description: profile.Describe()}
	if req.Save {
		if _, err := s.store.EnsureAccount(userID); err != nil {
			return StyleResponse{}, fmt.Errorf("style: %w", err)
		}
		if err := style.SaveProfile(s.store, userID, profile); err != nil {
			return StyleResponse{}, fmt.Errorf("style: %w", err)
		}
		resp.Saved = true
	}
	return resp, nil
}

// #endregion

// #region evaluate

// Evaluate scores a post against a platform without generating anything.
func (s *Service) Evaluate(req EvaluateRequest) (evaluate.Evaluation, error) {
	platform, err := prompt.Lookup(req.Platform)
	if err != nil {
		return evaluate.Evaluation{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	platform = platform.WithOverrides(req.PlatformConfig)
	return evaluate.Evaluate(req.Text, req.Original, platform), nil
}

// #endregion

// #region news

// News fetches and compresses feeds for a query.
func (s *Service) News(ctx context.Context, req NewsRequest) (NewsResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return NewsResponse{}, fmt.Errorf("%w: query is required", ErrBadRequest)
	}
	feeds := req.Feeds
	if len(feeds) == 0 {
		feeds = s.news.Feeds
	}
	if len(feeds) == 0 || s.fetcher == nil {
		return NewsResponse{}, fmt.Errorf("%w: no news feeds configured", ErrBadRequest)
	}
	res, err := s.fetchNews(ctx, req.Query, feeds)
	if err != nil {
		return NewsResponse{}, err
	}
	return NewsResponse{Result: res, Context: news.FormatAsContext(res.Items)}, nil
}

func (s *Service) fetchNews(ctx context.Context, query string, feeds []string) (news.Result, error) {
	start := time.Now()
	items, err := s.fetcher.Fetch(ctx, feeds)
	if err != nil {
		return news.Result{}, err
	}
	res := news.Compress(items, query, s.news)
	log.Printf("[API] news: feeds=%d considered=%d kept=%d elapsed=%s",
		len(feeds), res.Considered, len(res.Items), time.Since(start).Round(time.Millisecond))
	return res, nil
}

// #endregion

// #region memory

// Memory lists the user's strongest phrases for a platform.
func (s *Service) Memory(userID, platform string, k int) (MemoryResponse, error) {
	if platform != "" {
		p, err := prompt.Lookup(platform)
		if err != nil {
			return MemoryResponse{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		platform = p.Name
	}
	if k <= 0 {
		k = s.config.PhraseCount
	}
	phrases, err := s.memory.TopPhrases(userID, platform, k)
	if err != nil {
		return MemoryResponse{}, fmt.Errorf("memory: %w", err)
	}
	if phrases == nil {
		phrases = []memory.Phrase{}
	}
	return MemoryResponse{Phrases: phrases}, nil
}

// Feedback records a like or dislike for a phrase.
func (s *Service) Feedback(userID string, req FeedbackRequest) error {
	if strings.TrimSpace(req.Phrase) == "" {
		return fmt.Errorf("%w: phrase is required", ErrBadRequest)
	}
	if err := s.memory.Feedback(userID, req.Phrase, req.Liked); err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	return nil
}

// Forget removes every remembered phrase for the user.
func (s *Service) Forget(userID string) (ForgetResponse, error) {
	n, err := s.memory.Forget(userID)
	if err != nil {
		return ForgetResponse{}, fmt.Errorf("forget: %w", err)
	}
	log.Printf("[API] forget: user=%s deleted=%d", userID, n)
	return ForgetResponse{Deleted: n}, nil
}

// #endregion
