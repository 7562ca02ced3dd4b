package api

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/partypen/go-backend/internal/evaluate"
	"github.com/danielpatrickdp/partypen/go-backend/internal/memory"
	"github.com/danielpatrickdp/partypen/go-backend/internal/news"
	"github.com/danielpatrickdp/partypen/go-backend/internal/quota"
	"github.com/danielpatrickdp/partypen/go-backend/internal/ranker"
	"github.com/danielpatrickdp/partypen/go-backend/internal/style"
)

// ErrBadRequest marks caller input errors. Handlers map it to 400.
var ErrBadRequest = errors.New("bad request")

// #region generate

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	Platform       string         `json:"platform"`
	Content        string         `json:"content"`
	Instructions   string         `json:"instructions,omitempty"`
	PlatformConfig map[string]any `json:"platformConfig,omitempty"`
	UserInfo       map[string]any `json:"userInfo,omitempty"`
	CandidateCount int            `json:"candidateCount,omitempty"`
	UseNews        bool           `json:"useNews,omitempty"`
	NewsQuery      string         `json:"newsQuery,omitempty"` // defaults to Content
}

// GenerateResponse carries the selected post and how it was chosen.
// Text is empty when every generation path failed; Ranking.Reason says why.
type GenerateResponse struct {
	Text       string                 `json:"text"`
	Ranking    ranker.SelectionResult `json:"ranking"`
	Evaluation evaluate.Evaluation    `json:"evaluation"`
	Usage      quota.Decision         `json:"usage"`
	Topic      style.Topic            `json:"topic"`
	Attempts   int                    `json:"attempts"`
	NewsItems  int                    `json:"newsItems"`
}

// #endregion

// #region verify

// VerifyRequest is the body of POST /v1/verify. Text is the extracted
// document text; OCR happens upstream.
type VerifyRequest struct {
	Filename      string `json:"filename"`
	MimeType      string `json:"mimeType"`
	Text          string `json:"text"`
	ExpectedParty string `json:"expectedParty,omitempty"`
}

// VerifyResponse is the stored verification outcome.
type VerifyResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Confidence float64   `json:"confidence"`
	Party      string    `json:"party,omitempty"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"createdAt"`
}

// #endregion

// #region style

// StyleRequest is the body of POST /v1/style.
type StyleRequest struct {
	Samples []string `json:"samples"`
	Save    bool     `json:"save,omitempty"`
}

// StyleResponse is a classified profile and its prompt rendering.
type StyleResponse struct {
	Profile     style.Profile `json:"profile"`
	Description string        `json:"description"`
	Saved       bool          `json:"saved"`
}

// #endregion

// #region evaluate

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	Platform       string         `json:"platform"`
	Text           string         `json:"text"`
	Original       string         `json:"original,omitempty"`
	PlatformConfig map[string]any `json:"platformConfig,omitempty"`
}

// #endregion

// #region news

// NewsRequest is the body of POST /v1/news. Feeds defaults to the
// configured feed list.
type NewsRequest struct {
	Query string   `json:"query"`
	Feeds []string `json:"feeds,omitempty"`
}

// NewsResponse is the compressed result plus the rendered context block.
type NewsResponse struct {
	Result  news.Result `json:"result"`
	Context string      `json:"context"`
}

// #endregion

// #region memory

// MemoryResponse lists a user's strongest phrases.
type MemoryResponse struct {
	Phrases []memory.Phrase `json:"phrases"`
}

// FeedbackRequest is the body of POST /v1/memory/feedback.
type FeedbackRequest struct {
	Phrase string `json:"phrase"`
	Liked  bool   `json:"liked"`
}

// ForgetResponse reports how many memory rows were removed.
type ForgetResponse struct {
	Deleted int64 `json:"deleted"`
}

// #endregion

// #region common

// HealthResponse is the health check response.
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Platforms []string `json:"platforms"`
}

// ErrorResponse is returned for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// #endregion
