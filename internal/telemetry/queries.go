package telemetry

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/correl8/correl8/pkg/store"
)

// QueryKind classifies a search by what it constrains.
type QueryKind string

const (
	KindMatchAll QueryKind = "match_all"
	KindText     QueryKind = "text"
	KindIDs      QueryKind = "ids"
	KindMixed    QueryKind = "mixed"
)

// KindOf returns the kind of q.
func KindOf(q store.Query) QueryKind {
	text := strings.TrimSpace(q.Text)
	hasText := text != "" && text != "*"
	switch {
	case hasText && len(q.IDs) > 0:
		return KindMixed
	case hasText:
		return KindText
	case len(q.IDs) > 0:
		return KindIDs
	default:
		return KindMatchAll
	}
}

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one search as seen by the query log.
type QueryEvent struct {
	Index   string
	Query   string
	Kind    QueryKind
	Hits    int
	Latency time.Duration
	Time    time.Time
}

// EventFor builds the event for a search on index that started at start.
func EventFor(index string, q store.Query, res *store.SearchResult, start time.Time) QueryEvent {
	e := QueryEvent{
		Index:   index,
		Query:   strings.TrimSpace(q.Text),
		Kind:    KindOf(q),
		Latency: time.Since(start),
		Time:    time.Now(),
	}
	if res != nil {
		e.Hits = res.Total
	}
	return e
}

// ZeroResult reports whether the search matched nothing.
func (e QueryEvent) ZeroResult() bool {
	return e.Hits == 0
}

// ExtractTerms returns the lowercased words of a query string that are at
// least three characters long. Field prefixes (device:watch) are dropped.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if _, value, ok := strings.Cut(w, ":"); ok {
			w = value
		}
		w = strings.Trim(w, `+-"()*`)
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QuerySnapshot summarizes the searches seen since Since.
type QuerySnapshot struct {
	Kinds             map[QueryKind]int64     `json:"kinds"`
	TopTerms          []TermCount             `json:"top_terms"`
	ZeroResultQueries []string                `json:"zero_result_queries"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
	TotalQueries      int64                   `json:"total_queries"`
	ZeroResultCount   int64                   `json:"zero_result_count"`
	RepeatCount       int64                   `json:"repeat_count"`
	Since             time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of searches that matched nothing.
func (s *QuerySnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// QueryStore persists query log deltas.
type QueryStore interface {
	AddKindCounts(date string, counts map[QueryKind]int64) error
	KindCounts(from, to string) (map[QueryKind]int64, error)
	AddTermCounts(terms map[string]int64) error
	TopTerms(limit int) ([]TermCount, error)
	AddZeroResultQueries(queries []string, at time.Time) error
	ZeroResultQueries(limit int) ([]string, error)
	AddLatencyCounts(date string, counts map[LatencyBucket]int64) error
	LatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// QueryLogConfig configures a QueryLog.
type QueryLogConfig struct {
	TopTermsCapacity    int           // default 100
	ZeroResultsCapacity int           // default 100
	RecentCapacity      int           // queries remembered for repeat detection, default 500
	FlushInterval       time.Duration // 0 disables the background flush
}

// DefaultQueryLogConfig returns the defaults.
func DefaultQueryLogConfig() QueryLogConfig {
	return QueryLogConfig{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		RecentCapacity:      500,
		FlushInterval:       time.Minute,
	}
}

// pending holds what has not been flushed yet.
type pending struct {
	kinds       map[QueryKind]int64
	terms       map[string]int64
	zeroResults []string
	latency     map[LatencyBucket]int64
}

func newPending() pending {
	return pending{
		kinds:   make(map[QueryKind]int64),
		terms:   make(map[string]int64),
		latency: make(map[LatencyBucket]int64),
	}
}

// QueryLog aggregates search activity in memory and flushes it to a
// QueryStore. Safe for concurrent use. A nil *QueryLog ignores events.
type QueryLog struct {
	mu sync.Mutex

	kinds       map[QueryKind]int64
	topTerms    *lru.Cache[string, int64]
	zeroResults []string
	latency     map[LatencyBucket]int64
	total       int64
	zeroCount   int64
	repeats     int64
	recent      *lru.Cache[string, struct{}]
	since       time.Time

	unflushed pending

	store  QueryStore
	config QueryLogConfig
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewQueryLog creates a query log. A nil store keeps everything in memory.
func NewQueryLog(qs QueryStore, cfg QueryLogConfig) *QueryLog {
	def := DefaultQueryLogConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentCapacity <= 0 {
		cfg.RecentCapacity = def.RecentCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentCapacity)

	l := &QueryLog{
		kinds:     make(map[QueryKind]int64),
		topTerms:  topTerms,
		latency:   make(map[LatencyBucket]int64),
		recent:    recent,
		since:     time.Now(),
		unflushed: newPending(),
		store:     qs,
		config:    cfg,
		stopCh:    make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && qs != nil {
		l.wg.Add(1)
		go l.flushLoop()
	}
	return l
}

func (l *QueryLog) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = l.Flush()
		case <-l.stopCh:
			return
		}
	}
}

// Record adds one search to the log.
func (l *QueryLog) Record(e QueryEvent) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	l.total++
	l.kinds[e.Kind]++
	l.unflushed.kinds[e.Kind]++

	for _, term := range ExtractTerms(e.Query) {
		count, _ := l.topTerms.Get(term)
		l.topTerms.Add(term, count+1)
		l.unflushed.terms[term]++
	}

	if e.ZeroResult() {
		l.zeroCount++
		l.zeroResults = append(l.zeroResults, e.Query)
		if len(l.zeroResults) > l.config.ZeroResultsCapacity {
			l.zeroResults = l.zeroResults[1:]
		}
		l.unflushed.zeroResults = append(l.unflushed.zeroResults, e.Query)
	}

	bucket := LatencyToBucket(e.Latency)
	l.latency[bucket]++
	l.unflushed.latency[bucket]++

	key := hashQuery(e.Index, e.Query)
	if _, seen := l.recent.Get(key); seen {
		l.repeats++
	}
	l.recent.Add(key, struct{}{})
}

func hashQuery(index, query string) string {
	sum := sha256.Sum256([]byte(index + "\x00" + strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the in-memory aggregates.
func (l *QueryLog) Snapshot() *QuerySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := &QuerySnapshot{
		Kinds:             maps.Clone(l.kinds),
		ZeroResultQueries: slices.Clone(l.zeroResults),
		Latency:           maps.Clone(l.latency),
		TotalQueries:      l.total,
		ZeroResultCount:   l.zeroCount,
		RepeatCount:       l.repeats,
		Since:             l.since,
	}
	for _, term := range l.topTerms.Keys() {
		if count, ok := l.topTerms.Peek(term); ok {
			snap.TopTerms = append(snap.TopTerms, TermCount{Term: term, Count: count})
		}
	}
	sortTerms(snap.TopTerms)
	return snap
}

func sortTerms(terms []TermCount) {
	slices.SortFunc(terms, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Term, b.Term)
	})
}

// Flush writes everything recorded since the previous flush to the store.
// On failure the deltas are kept for the next attempt.
func (l *QueryLog) Flush() error {
	if l == nil || l.store == nil {
		return nil
	}

	l.mu.Lock()
	batch := l.unflushed
	l.unflushed = newPending()
	l.mu.Unlock()

	if err := l.write(batch); err != nil {
		l.mu.Lock()
		l.unflushed = mergePending(batch, l.unflushed)
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *QueryLog) write(p pending) error {
	today := time.Now().Format("2006-01-02")
	if err := l.store.AddKindCounts(today, p.kinds); err != nil {
		return err
	}
	if err := l.store.AddTermCounts(p.terms); err != nil {
		return err
	}
	if err := l.store.AddZeroResultQueries(p.zeroResults, time.Now()); err != nil {
		return err
	}
	return l.store.AddLatencyCounts(today, p.latency)
}

// mergePending folds newer into older. Partially written batches may be
// counted twice after a failed flush.
func mergePending(older, newer pending) pending {
	for k, v := range newer.kinds {
		older.kinds[k] += v
	}
	for k, v := range newer.terms {
		older.terms[k] += v
	}
	for k, v := range newer.latency {
		older.latency[k] += v
	}
	older.zeroResults = append(older.zeroResults, newer.zeroResults...)
	return older
}

// Close stops the background flush, flushes once more and closes the store.
func (l *QueryLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stopCh)
	l.wg.Wait()

	err := l.Flush()
	if l.store != nil {
		if cerr := l.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
