package verify

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/danielpatrickdp/partypen/go-backend/internal/archive"
	"github.com/danielpatrickdp/partypen/go-backend/internal/model"
	"github.com/danielpatrickdp/partypen/go-backend/internal/ranker"
	"github.com/danielpatrickdp/partypen/go-backend/internal/store"
)

// #endregion

// ErrEmptyDocument is returned when the document has no extractable text.
var ErrEmptyDocument = errors.New("document has no text")

// #region types

// Document is the extracted text of an uploaded membership document.
type Document struct {
	Filename      string `json:"filename"`
	MimeType      string `json:"mimeType"`
	Text          string `json:"text"`
	ExpectedParty string `json:"expectedParty,omitempty"`
}

// Config holds verifier settings.
type Config struct {
	Model            string
	Timeout          time.Duration
	ApproveThreshold float64 // min confidence to approve or reject outright
	MaxChars         int     // document text is clipped to this many runes
}

// DefaultConfig returns defaults that use the ranker's heavy model.
func DefaultConfig(heavyModel string) Config {
	return Config{
		Model:            heavyModel,
		Timeout:          45 * time.Second,
		ApproveThreshold: 0.8,
		MaxChars:         8000,
	}
}

type verificationStore interface {
	EnsureAccount(userID string) (store.Account, error)
	SaveVerification(v store.Verification) (store.Verification, error)
	MarkVerified(userID, party string) error
}

// verdict is what the model is asked to return.
type verdict struct {
	IsMembershipDocument *bool    `json:"isMembershipDocument"`
	Party                string   `json:"party"`
	MemberName           string   `json:"memberName"`
	Confidence           *float64 `json:"confidence"`
	Reason               string   `json:"reason"`
}

// #endregion

// #region verifier

// Verifier classifies membership documents with the heavy model.
type Verifier struct {
	gen    model.Generator
	store  verificationStore
	config  Config
	archive archive.Archive
}

//go:generate mockgen -destination=mock_generator_test.go -package=verify github.com/danielpatrickdp/partypen/go-backend/internal/model Generator

// New creates a Verifier.
func New(gen model.Generator, st verificationStore, config Config) *Verifier {
	return &Verifier{gen: gen, store: st, config: config, archive: archive.Nop{}}
}

// WithArchive keeps a copy of every checked document in a.
func (v *Verifier) WithArchive(a archive.Archive) *Verifier {
	if a != nil {
		v.archive = a
	}
	return v
}

// Verify checks doc and records the outcome. Model trouble yields
// needs_review rather than an error; only empty documents and storage
// failures are returned as errors.
func (v *Verifier) Verify(ctx context.Context, userID string, doc Document) (store.Verification, error) {
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return store.Verification{}, ErrEmptyDocument
	}
	if _, err := v.store.EnsureAccount(userID); err != nil {
		return store.Verification{}, fmt.Errorf("verify: %w", err)
	}

	rec := store.Verification{
		UserID:   userID,
		Filename: doc.Filename,
		MimeType: doc.MimeType,
	}

	vd, err := v.ask(ctx, clip(text, v.config.MaxChars), doc.ExpectedParty)
	if err != nil {
		log.Printf("[VERIFY] user=%s model verdict unavailable: %v", userID, err)
		rec.Status = store.StatusNeedsReview
		rec.Reason = fmt.Sprintf("automatic check failed: %v", err)
	} else {
		rec.Status, rec.Reason = v.classify(vd, doc.ExpectedParty)
		rec.Confidence = *vd.Confidence
		rec.Party = strings.TrimSpace(vd.Party)
	}

	saved, err := v.store.SaveVerification(rec)
	if err != nil {
		return store.Verification{}, fmt.Errorf("verify: %w", err)
	}
	if saved.Status == store.StatusApproved {
		if err := v.store.MarkVerified(userID, saved.Party); err != nil {
			return saved, fmt.Errorf("verify: %w", err)
		}
	}
	v.keep(ctx, saved, doc)
	log.Printf("[VERIFY] user=%s status=%s confidence=%.2f", userID, saved.Status, saved.Confidence)
	return saved, nil
}

// archivedDocument is what lands in the archive, keyed by verification id.
type archivedDocument struct {
	ID            string  `json:"id"`
	UserID        string  `json:"userId"`
	Filename      string  `json:"filename"`
	MimeType      string  `json:"mimeType"`
	ExpectedParty string  `json:"expectedParty,omitempty"`
	Status        string  `json:"status"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
	Text          string  `json:"text"`
}

// keep archives the document. Failures are logged only; the verdict stands.
func (v *Verifier) keep(ctx context.Context, rec store.Verification, doc Document) {
	data, err := json.Marshal(archivedDocument{
		ID:            rec.ID,
		UserID:        rec.UserID,
		Filename:      doc.Filename,
		MimeType:      doc.MimeType,
		ExpectedParty: doc.ExpectedParty,
		Status:        string(rec.Status),
		Confidence:    rec.Confidence,
		Reason:        rec.Reason,
		Text:          doc.Text,
	})
	if err != nil {
		log.Printf("[VERIFY] archive encode failed: %v", err)
		return
	}
	key := rec.UserID + "/" + rec.ID + ".json"
	if err := v.archive.Put(ctx, key, data, "application/json"); err != nil {
		log.Printf("[VERIFY] archive failed: user=%s id=%s: %v", rec.UserID, rec.ID, err)
	}
}

// #endregion

// #region classify

func (v *Verifier) classify(vd verdict, expectedParty string) (store.VerificationStatus, string) {
	conf := *vd.Confidence
	reason := strings.TrimSpace(vd.Reason)
	if conf < v.config.ApproveThreshold {
		return store.StatusNeedsReview, withReason(fmt.Sprintf("low confidence %.2f", conf), reason)
	}
	if !*vd.IsMembershipDocument {
		return store.StatusRejected, withReason("not a membership document", reason)
	}
	if expectedParty != "" && !sameParty(vd.Party, expectedParty) {
		return store.StatusRejected, withReason(fmt.Sprintf("document shows %q, expected %q", vd.Party, expectedParty), reason)
	}
	return store.StatusApproved, withReason("membership confirmed", reason)
}

func sameParty(got, want string) bool {
	g := strings.ToLower(strings.TrimSpace(got))
	w := strings.ToLower(strings.TrimSpace(want))
	if g == "" || w == "" {
		return false
	}
	return g == w || strings.Contains(g, w) || strings.Contains(w, g)
}

func withReason(head, detail string) string {
	if detail == "" {
		return head
	}
	return head + ": " + detail
}

// #endregion

// #region model-call

func (v *Verifier) ask(ctx context.Context, text, expectedParty string) (verdict, error) {
	raw, err := ranker.WithTimeout(ctx, v.config.Timeout, "verification timed out",
		func(ctx context.Context) (string, error) {
			return v.gen.Generate(ctx, model.Request{
				Prompt:         buildPrompt(text, expectedParty),
				Model:          v.config.Model,
				Temperature:    0,
				MaxTokens:      512,
				ResponseFormat: model.FormatJSON,
				Tag:            "verify",
			})
		})
	if err != nil {
		return verdict{}, err
	}
	obj, ok := ranker.ExtractFirstBalancedJSON(raw)
	if !ok {
		return verdict{}, fmt.Errorf("no JSON object in model output")
	}
	var vd verdict
	if err := json.Unmarshal([]byte(obj), &vd); err != nil {
		return verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if vd.IsMembershipDocument == nil || vd.Confidence == nil {
		return verdict{}, fmt.Errorf("verdict missing isMembershipDocument or confidence")
	}
	if *vd.Confidence < 0 || *vd.Confidence > 1 {
		return verdict{}, fmt.Errorf("confidence %v outside [0,1]", *vd.Confidence)
	}
	return vd, nil
}

func buildPrompt(text, expectedParty string) string {
	var b strings.Builder
	b.WriteString("You check whether a document proves membership of a political party.\n")
	if expectedParty != "" {
		fmt.Fprintf(&b, "The user claims membership of: %s\n", expectedParty)
	}
	b.WriteString("Document text:\n<<<DOCUMENT>>>\n")
	b.WriteString(text)
	b.WriteString("\n<<<END DOCUMENT>>>\n")
	b.WriteString(`Respond with JSON only: {"isMembershipDocument":true,"party":"","memberName":"","confidence":0.0,"reason":""}`)
	b.WriteString("\nconfidence is between 0 and 1.\n")
	return b.String()
}

func clip(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}

// #endregion
