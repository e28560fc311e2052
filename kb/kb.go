package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/resilience-designer/model"
)

var (
	ErrCandidateExists   = errors.New("candidate already exists")
	ErrCandidateNotFound = errors.New("candidate not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventCandidateAdded EventType = iota
	EventCandidateEvaluated
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type      EventType
	Candidate Candidate
}

// Evaluation summarises the out-of-sample costs of a candidate.
type Evaluation struct {
	Mean       float64
	Variance   float64
	Low, High  float64
	Samples    int
	Infeasible int
	Repeat     bool
}

// Candidate is the policy one SAA batch converged to.
type Candidate struct {
	Batch     int
	Policy    model.PolicyParameters
	InSample  float64
	Converged bool
	Evaluated bool
	Eval      Evaluation
}

// Eligible reports whether the candidate may be selected: it was evaluated
// and admitted a recourse plan on every out-of-sample scenario.
func (c Candidate) Eligible() bool {
	return c.Evaluated && c.Eval.Infeasible == 0 && c.Eval.Samples > 0
}

// KnowledgeBase is an in-memory, thread-safe store of candidate policies
// keyed by batch index.
type KnowledgeBase struct {
	mu sync.RWMutex

	candidates map[int]*Candidate

	nextSub int
	subs    map[int]func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		candidates: make(map[int]*Candidate),
		subs:       make(map[int]func(Event)),
	}
}

// AddCandidate stores c. It returns an error if the batch already has one.
func (kb *KnowledgeBase) AddCandidate(c Candidate) error {
	kb.mu.Lock()
	if _, exists := kb.candidates[c.Batch]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: batch %d", ErrCandidateExists, c.Batch)
	}
	c.Policy = c.Policy.Clone()
	kb.candidates[c.Batch] = &c
	event := Event{Type: EventCandidateAdded, Candidate: c}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// RecordEvaluation attaches an out-of-sample evaluation to a candidate and
// notifies subscribers.
func (kb *KnowledgeBase) RecordEvaluation(batch int, ev Evaluation) error {
	kb.mu.Lock()
	c, ok := kb.candidates[batch]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: batch %d", ErrCandidateNotFound, batch)
	}
	c.Eval = ev
	c.Evaluated = true
	event := Event{Type: EventCandidateEvaluated, Candidate: *c}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// GetCandidate returns the candidate of batch, or false if not found.
func (kb *KnowledgeBase) GetCandidate(batch int) (Candidate, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	c, ok := kb.candidates[batch]
	if !ok {
		return Candidate{}, false
	}
	return *c, true
}

// ListCandidates returns a snapshot of all candidates ordered by batch.
func (kb *KnowledgeBase) ListCandidates() []Candidate {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]Candidate, 0, len(kb.candidates))
	for _, c := range kb.candidates {
		res = append(res, *c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Batch < res[j].Batch })
	return res
}

// Best returns the evaluated candidate with the lowest mean out-of-sample
// cost. Eligible candidates win over ineligible ones; ties go to the lower
// batch index.
func (kb *KnowledgeBase) Best() (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range kb.ListCandidates() {
		if !c.Evaluated || c.Eval.Samples == 0 {
			continue
		}
		switch {
		case !found:
		case c.Eligible() != best.Eligible():
			if !c.Eligible() {
				continue
			}
		case c.Eval.Mean >= best.Eval.Mean:
			continue
		}
		best, found = c, true
	}
	return best, found
}

// Reset drops every candidate. Subscribers are kept.
func (kb *KnowledgeBase) Reset() {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.candidates = make(map[int]*Candidate)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// snapshotSubs must be called with kb.mu held.
func (kb *KnowledgeBase) snapshotSubs() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), len(ids))
	for i, id := range ids {
		subs[i] = kb.subs[id]
	}
	return subs
}

// notify runs outside the lock so subscribers may call back into the KB.
func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}
