// Package ledger holds the shared memory of one analysis session: the
// conversation log, the insights saved by agents and keyed snapshots of the
// data they looked at.
package ledger

import (
	"fmt"
	"strings"
	"sync"
)

type Entry struct {
	Speaker string
	Message string
}

type Insight struct {
	Key  string
	Text string
}

// Ledger is safe for concurrent use. Conversation and insights are
// append-only; historical snapshots are last-write-wins per key.
type Ledger struct {
	mu           sync.Mutex
	conversation []Entry
	insights     []Insight
	historical   map[string]any
	onEntry      func(Entry)
}

func New() *Ledger {
	return &Ledger{historical: make(map[string]any)}
}

// OnConversation registers fn to be called after every conversation append.
// fn runs outside the ledger lock.
func (l *Ledger) OnConversation(fn func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEntry = fn
}

func (l *Ledger) AddConversation(speaker, message string) {
	e := Entry{Speaker: speaker, Message: message}
	l.mu.Lock()
	l.conversation = append(l.conversation, e)
	fn := l.onEntry
	l.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (l *Ledger) AddHistoricalData(key string, data any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.historical[key] = data
}

// AddInsight stores text under the next sequential key and returns the key.
func (l *Ledger) AddInsight(text string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := fmt.Sprintf("insight_%d", len(l.insights)+1)
	l.insights = append(l.insights, Insight{Key: key, Text: text})
	return key
}

func (l *Ledger) HistoricalData(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.historical[key]
	return v, ok
}

func (l *Ledger) Conversation() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.conversation...)
}

func (l *Ledger) Insights() []Insight {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Insight(nil), l.insights...)
}

// Context renders the conversation followed by the insights, each in
// insertion order. The output depends only on the ledger state.
func (l *Ledger) Context() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("## Conversation\n")
	for _, e := range l.conversation {
		fmt.Fprintf(&sb, "%s: %s\n", e.Speaker, e.Message)
	}
	sb.WriteString("## Insights\n")
	for _, in := range l.insights {
		fmt.Fprintf(&sb, "%s: %s\n", in.Key, in.Text)
	}
	return sb.String()
}
