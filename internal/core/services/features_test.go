package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

// engineWorld is the state of one scenario
type engineWorld struct {
	f        *engineFixture
	tenants  map[string]*domain.Tenant
	outcomes []string
	result   *domain.QueryResult
	err      error

	clock    time.Time
	cache    *memory.ResponseCache
	cacheKey domain.CacheKey
	cached   *domain.QueryResult
}

func initializeScenario(sc *godog.ScenarioContext) {
	w := &engineWorld{}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		w.f = buildEngineFixture()
		w.tenants = make(map[string]*domain.Tenant)
		w.outcomes = nil
		w.result, w.err = nil, nil
		return ctx, nil
	})

	sc.Step(`^tenant "([^"]*)" with a quota of (\d+) queries per window$`, w.tenantWithQueryQuota)
	sc.Step(`^tenant "([^"]*)" with a token quota of (\d+)$`, w.tenantWithTokenQuota)
	sc.Step(`^tenant "([^"]*)" submits (\d+) queries$`, w.submitQueries)
	sc.Step(`^the outcomes are "([^"]*)"$`, w.outcomesAre)
	sc.Step(`^no embedding, retrieval or generation call was made$`, w.noPaidCalls)
	sc.Step(`^tenant "([^"]*)" has chunks scoring "([^"]*)"$`, w.tenantHasChunks)
	sc.Step(`^tenant "([^"]*)" asks "([^"]*)" with score threshold ([\d.]+)$`, w.ask)
	sc.Step(`^tenant "([^"]*)" asks for documents "([^"]*)" with score threshold ([\d.]+)$`, w.askForDocuments)
	sc.Step(`^the answer uses exactly the chunks scoring "([^"]*)"$`, w.answerUsesScores)
	sc.Step(`^no fragment belongs to tenant "([^"]*)"$`, w.noFragmentOf)
	sc.Step(`^the vector store times out$`, w.vectorStoreTimesOut)
	sc.Step(`^the error kind is "([^"]*)"$`, w.errorKindIs)
	sc.Step(`^the ledger records a "([^"]*)" query with zero cost$`, w.ledgerRecordsZeroCost)
	sc.Step(`^tenant "([^"]*)" asks "([^"]*)" at temperature 0 blocking and streaming$`, w.askBlockingAndStreaming)
	sc.Step(`^both ledgered answers are identical$`, w.ledgeredAnswersIdentical)
	sc.Step(`^a cached result for tenant "([^"]*)" with a TTL of (\d+) seconds$`, w.cachedResult)
	sc.Step(`^looking it up returns the identical result$`, w.lookupReturnsIdentical)
	sc.Step(`^(\d+) seconds pass$`, w.secondsPass)
	sc.Step(`^looking it up reports a miss$`, w.lookupMisses)
}

func (w *engineWorld) tenant(id string) *domain.Tenant {
	t, ok := w.tenants[id]
	if !ok {
		t = testTenant(id)
		w.tenants[id] = t
	}
	return t
}

func (w *engineWorld) scope(id string) (domain.TenantContext, error) {
	return domain.NewTenantContext(w.tenant(id), "user-"+id, []domain.Role{domain.RoleMember})
}

func (w *engineWorld) tenantWithQueryQuota(id string, n int) error {
	w.tenant(id).Quota.MaxQueriesPerDay = n
	return nil
}

func (w *engineWorld) tenantWithTokenQuota(id string, n int) error {
	w.tenant(id).Quota.MaxTokensPerDay = int64(n)
	return nil
}

func (w *engineWorld) submitQueries(id string, n int) error {
	tc, err := w.scope(id)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		_, err := w.f.engine.Submit(context.Background(), tc, domain.QueryRequest{Text: fmt.Sprintf("question %d", i)})
		switch {
		case err == nil:
			w.outcomes = append(w.outcomes, "Allow")
		case errors.Is(err, domain.ErrRateLimited):
			w.outcomes = append(w.outcomes, "RateLimited")
		default:
			return err
		}
	}
	return nil
}

func (w *engineWorld) outcomesAre(list string) error {
	want := splitList(list)
	if !reflect.DeepEqual(w.outcomes, want) {
		return fmt.Errorf("expected %v, got %v", want, w.outcomes)
	}
	return nil
}

func (w *engineWorld) noPaidCalls() error {
	if w.f.embed.Calls() != 0 || w.f.store.Calls() != 0 || w.f.provider.Calls() != 0 {
		return fmt.Errorf("expected no calls, got embed=%d search=%d generate=%d",
			w.f.embed.Calls(), w.f.store.Calls(), w.f.provider.Calls())
	}
	return nil
}

func (w *engineWorld) tenantHasChunks(id, scores string) error {
	tc, err := w.scope(id)
	if err != nil {
		return err
	}
	var chunks []*domain.DocumentChunk
	for i, s := range splitList(scores) {
		score, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		chunk := &domain.DocumentChunk{
			ID:         fmt.Sprintf("%s-chunk-%d", id, i),
			DocumentID: fmt.Sprintf("%s-doc-%d", id, i),
			Text:       fmt.Sprintf("text %d of %s", i, id),
			Source:     "handbook.pdf",
		}
		w.f.store.SetScore(chunk.ID, score)
		chunks = append(chunks, chunk)
	}
	return w.f.store.Upsert(context.Background(), tc, chunks)
}

func (w *engineWorld) submit(id string, req domain.QueryRequest) error {
	tc, err := w.scope(id)
	if err != nil {
		return err
	}
	w.result, w.err = w.f.engine.Submit(context.Background(), tc, req)
	return nil
}

func (w *engineWorld) ask(id, text string, threshold float64) error {
	return w.submit(id, domain.QueryRequest{Text: text, Params: domain.QueryParams{ScoreThreshold: ptr(threshold)}})
}

func (w *engineWorld) askForDocuments(id, docs string, threshold float64) error {
	return w.submit(id, domain.QueryRequest{
		Text: "show me the documents",
		Params: domain.QueryParams{
			ScoreThreshold: ptr(threshold),
			Filters:        domain.RetrievalFilters{DocumentIDs: splitList(docs)},
		},
	})
}

func (w *engineWorld) answerUsesScores(scores string) error {
	if w.err != nil {
		return w.err
	}
	want := splitList(scores)
	if len(w.result.Fragments) != len(want) {
		return fmt.Errorf("expected %d fragments, got %d", len(want), len(w.result.Fragments))
	}
	for i, s := range want {
		score, _ := strconv.ParseFloat(s, 64)
		if w.result.Fragments[i].Score != score {
			return fmt.Errorf("fragment %d: expected score %v, got %v", i, score, w.result.Fragments[i].Score)
		}
	}
	return nil
}

func (w *engineWorld) noFragmentOf(id string) error {
	if w.err != nil {
		return w.err
	}
	for _, f := range w.result.Fragments {
		if strings.HasPrefix(f.ChunkID, id+"-") {
			return fmt.Errorf("fragment %s leaked from tenant %s", f.ChunkID, id)
		}
	}
	return nil
}

func (w *engineWorld) vectorStoreTimesOut() error {
	w.f.store.SetError(context.DeadlineExceeded)
	return nil
}

func (w *engineWorld) errorKindIs(kind string) error {
	if got := domain.KindOf(w.err); string(got) != kind {
		return fmt.Errorf("expected kind %s, got %q (%v)", kind, got, w.err)
	}
	return nil
}

func (w *engineWorld) ledgerRecordsZeroCost(status string) error {
	entries := w.f.ledger.Entries()
	if len(entries) != 1 {
		return fmt.Errorf("expected 1 ledger entry, got %d", len(entries))
	}
	r := entries[0].Result
	if string(r.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, r.Status)
	}
	if r.EstimatedCost != 0 || r.Usage.TotalTokens != 0 {
		return fmt.Errorf("expected zero cost, got %v / %d tokens", r.EstimatedCost, r.Usage.TotalTokens)
	}
	return nil
}

func (w *engineWorld) askBlockingAndStreaming(id, text string) error {
	tc, err := w.scope(id)
	if err != nil {
		return err
	}
	req := domain.QueryRequest{Text: text, Params: domain.QueryParams{Temperature: ptr(0.0)}}
	if _, err := w.f.engine.Submit(context.Background(), tc, req); err != nil {
		return err
	}
	stream, err := w.f.engine.Stream(context.Background(), tc, req)
	if err != nil {
		return err
	}
	defer stream.Close()
	for ev := range stream.Events() {
		if ev.Type == domain.StreamEventError {
			return fmt.Errorf("stream failed: %s", ev.Message)
		}
	}
	<-stream.Done()
	return nil
}

func (w *engineWorld) ledgeredAnswersIdentical() error {
	entries := w.f.ledger.Entries()
	if len(entries) != 2 {
		return fmt.Errorf("expected 2 ledger entries, got %d", len(entries))
	}
	if entries[0].Result.Answer == "" || entries[0].Result.Answer != entries[1].Result.Answer {
		return fmt.Errorf("answers differ: %q vs %q", entries[0].Result.Answer, entries[1].Result.Answer)
	}
	return nil
}

func (w *engineWorld) cachedResult(id string, seconds int) error {
	w.clock = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	w.cache = memory.NewResponseCache(nil).WithClock(func() time.Time { return w.clock })
	w.cacheKey = domain.CacheKey{TenantID: id, NormalizedText: "capital of france?", Fingerprint: "f"}
	w.cached = &domain.QueryResult{
		ID:        "q1",
		Answer:    "Paris",
		Fragments: []domain.ContextFragment{{ChunkID: "c1", Score: 0.9}},
		Usage:     domain.TokenUsage{InputTokens: 10, OutputTokens: 1, TotalTokens: 11},
		Status:    domain.QueryStatusCompleted,
	}
	return w.cache.Set(context.Background(), w.cacheKey, w.cached, time.Duration(seconds)*time.Second)
}

func (w *engineWorld) lookupReturnsIdentical() error {
	got, err := w.cache.Get(context.Background(), w.cacheKey)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(got, w.cached) {
		return fmt.Errorf("expected %+v, got %+v", w.cached, got)
	}
	return nil
}

func (w *engineWorld) secondsPass(n int) error {
	w.clock = w.clock.Add(time.Duration(n) * time.Second)
	return nil
}

func (w *engineWorld) lookupMisses() error {
	if _, err := w.cache.Get(context.Background(), w.cacheKey); !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("expected miss, got %v", err)
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
