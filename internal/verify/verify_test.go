package verify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielpatrickdp/partypen/go-backend/internal/model"
	"github.com/danielpatrickdp/partypen/go-backend/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "verify.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func replying(reply string, err error) model.Generator {
	return model.GeneratorFunc(func(ctx context.Context, req model.Request) (string, error) {
		return reply, err
	})
}

func testConfig() Config {
	cfg := DefaultConfig("heavy-test")
	cfg.Timeout = time.Second
	return cfg
}

var card = Document{Filename: "card.png", MimeType: "image/png", Text: "GREEN PARTY membership card. Member: Jo Doe. Valid 2026.", ExpectedParty: "Green Party"}

func TestVerify_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantStatus store.VerificationStatus
		wantReason string
	}{
		{"approved", `{"isMembershipDocument":true,"party":"Green Party","confidence":0.93,"reason":"valid card"}`, store.StatusApproved, "membership confirmed"},
		{"not-membership", `{"isMembershipDocument":false,"confidence":0.9,"reason":"utility bill"}`, store.StatusRejected, "not a membership document"},
		{"wrong-party", `{"isMembershipDocument":true,"party":"Blue Party","confidence":0.95}`, store.StatusRejected, "expected"},
		{"low-confidence", `{"isMembershipDocument":true,"party":"Green Party","confidence":0.5}`, store.StatusNeedsReview, "low confidence"},
		{"garbage", `I could not read it`, store.StatusNeedsReview, "automatic check failed"},
		{"missing-fields", `{"party":"Green Party"}`, store.StatusNeedsReview, "automatic check failed"},
		{"bad-confidence", `{"isMembershipDocument":true,"confidence":7}`, store.StatusNeedsReview, "automatic check failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			v := New(replying(tt.reply, nil), st, testConfig())

			got, err := v.Verify(context.Background(), "u1", card)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status: got %s, want %s (reason %q)", got.Status, tt.wantStatus, got.Reason)
			}
			if !strings.Contains(got.Reason, tt.wantReason) {
				t.Errorf("reason %q should contain %q", got.Reason, tt.wantReason)
			}
			if got.ID == "" {
				t.Error("verification should be persisted with an id")
			}

			acct, err := st.GetAccount("u1")
			if err != nil {
				t.Fatal(err)
			}
			if acct.Verified != (tt.wantStatus == store.StatusApproved) {
				t.Errorf("account verified=%v after %s", acct.Verified, got.Status)
			}
		})
	}
}

func TestVerify_ApprovalMarksParty(t *testing.T) {
	st := newTestStore(t)
	v := New(replying("```json\n{\"isMembershipDocument\":true,\"party\":\"Green Party\",\"confidence\":0.99}\n```", nil), st, testConfig())

	if _, err := v.Verify(context.Background(), "u1", card); err != nil {
		t.Fatal(err)
	}
	acct, _ := st.GetAccount("u1")
	if acct.Party != "Green Party" {
		t.Errorf("party: got %q", acct.Party)
	}
	list, _ := st.ListVerifications("u1")
	if len(list) != 1 || list[0].Filename != "card.png" {
		t.Errorf("unexpected stored verifications: %+v", list)
	}
}

func TestVerify_ModelErrorNeedsReview(t *testing.T) {
	st := newTestStore(t)
	v := New(replying("", model.ErrUnavailable), st, testConfig())

	got, err := v.Verify(context.Background(), "u1", card)
	if err != nil {
		t.Fatalf("model failure must not surface as an error: %v", err)
	}
	if got.Status != store.StatusNeedsReview {
		t.Errorf("status: got %s", got.Status)
	}
}

func TestVerify_Timeout(t *testing.T) {
	st := newTestStore(t)
	slow := model.GeneratorFunc(func(ctx context.Context, req model.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cfg := testConfig()
	cfg.Timeout = 30 * time.Millisecond
	v := New(slow, st, cfg)

	got, err := v.Verify(context.Background(), "u1", card)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusNeedsReview || !strings.Contains(got.Reason, "timed out") {
		t.Errorf("got %s %q", got.Status, got.Reason)
	}
}

func TestVerify_EmptyDocument(t *testing.T) {
	calls := 0
	gen := model.GeneratorFunc(func(ctx context.Context, req model.Request) (string, error) {
		calls++
		return "", nil
	})
	v := New(gen, newTestStore(t), testConfig())

	_, err := v.Verify(context.Background(), "u1", Document{Filename: "blank.pdf", Text: "  \n"})
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if calls != 0 {
		t.Errorf("model should not be called, got %d calls", calls)
	}
}

func TestVerify_PromptCarriesDocument(t *testing.T) {
	var got model.Request
	gen := model.GeneratorFunc(func(ctx context.Context, req model.Request) (string, error) {
		got = req
		return `{"isMembershipDocument":true,"confidence":0.9,"party":"Green Party"}`, nil
	})
	cfg := testConfig()
	cfg.MaxChars = 20
	v := New(gen, newTestStore(t), cfg)

	if _, err := v.Verify(context.Background(), "u1", card); err != nil {
		t.Fatal(err)
	}
	if got.Model != "heavy-test" || got.ResponseFormat != model.FormatJSON {
		t.Errorf("unexpected request: %+v", got)
	}
	if !strings.Contains(got.Prompt, "<<<DOCUMENT>>>\nGREEN PARTY membersh\n<<<END DOCUMENT>>>") {
		t.Errorf("document should be clipped into the prompt:\n%s", got.Prompt)
	}
	if !strings.Contains(got.Prompt, "claims membership of: Green Party") {
		t.Error("expected party missing from prompt")
	}
}
