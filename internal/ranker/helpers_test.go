package ranker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/partypen/go-backend/internal/model"
)

// fakeGen routes light and heavy calls to separate handlers and counts them.
type fakeGen struct {
	light      func(ctx context.Context, slot int, req model.Request) (string, error)
	heavy      func(ctx context.Context, req model.Request) (string, error)
	lightCalls atomic.Int64
	heavyCalls atomic.Int64

	mu      sync.Mutex
	prompts []string
}

func (f *fakeGen) Generate(ctx context.Context, req model.Request) (string, error) {
	var slot int
	if _, err := fmt.Sscanf(req.Tag, "light/%d", &slot); err == nil {
		f.lightCalls.Add(1)
		if f.light == nil {
			return "", nil
		}
		return f.light(ctx, slot, req)
	}
	f.heavyCalls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	if f.heavy == nil {
		return "", nil
	}
	return f.heavy(ctx, req)
}

func (f *fakeGen) lastHeavyPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func testConfig() Config {
	return Config{
		CandidateCount:             3,
		LightModel:                 "light-test",
		HeavyModel:                 "heavy-test",
		LightTimeout:               500 * time.Millisecond,
		HeavyTimeout:               500 * time.Millisecond,
		DirectTimeout:              500 * time.Millisecond,
		MinCandidatesForHeavyStage: 2,
		LightTemperature:           0.9,
		HeavyTemperature:           0.2,
		DirectTemperature:          0.6,
		LightMaxTokens:             256,
		HeavyMaxTokens:             512,
	}
}

// recordingSink keeps emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (s *recordingSink) Emit(event string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.fields = append(s.fields, fields)
}

func (s *recordingSink) find(event string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.events {
		if e == event {
			return s.fields[i]
		}
	}
	return nil
}
