// Package decision runs the reducer, the lane classifier and the scorer over a
// user's relationships and actions, and picks the next move.
package decision

import (
	"sort"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/lane"
	"github.com/kalambet/nextmove/internal/relstate"
	"github.com/kalambet/nextmove/internal/scoring"
)

// Inputs is a snapshot of one user's rows.
type Inputs struct {
	Relationships []domain.Relationship
	// Pending holds every NEW/SENT/SNOOZED action. It drives relationship state.
	Pending []domain.Action
	// Candidates are the actions to score. Nil means score all of Pending.
	Candidates []domain.Action
	// LastCompleted maps relationship ID to its latest DONE/REPLIED completion.
	LastCompleted map[string]time.Time
	// Signals maps relationship ID to email signals. Missing means none.
	Signals map[string]*domain.EmailSignals
}

// RelationshipView is a relationship's derived state and lane.
type RelationshipView struct {
	RelationshipID string                   `json:"relationship_id"`
	Name           string                   `json:"name"`
	State          domain.RelationshipState `json:"state"`
	Lane           lane.Decision            `json:"lane"`
}

// Candidate is a scored, laned action.
type Candidate struct {
	Action           domain.Action        `json:"action"`
	Scored           scoring.ScoredAction `json:"scored"`
	Lane             lane.Decision        `json:"lane"`
	RelationshipLane domain.Lane          `json:"relationship_lane,omitempty"`
}

// Result is the outcome of one evaluation.
type Result struct {
	ReferenceDate string             `json:"reference_date"`
	Relationships []RelationshipView `json:"relationships"`
	// Candidates are sorted by lane rank, then score descending, then ID.
	Candidates []Candidate `json:"candidates"`
	Best       *Candidate  `json:"best,omitempty"`
}

// Scores returns the lane/score pair for every candidate.
func (r *Result) Scores() []domain.ActionScore {
	out := make([]domain.ActionScore, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		out = append(out, domain.ActionScore{ActionID: c.Action.ID, Lane: c.Lane.Lane, Score: c.Scored.Score})
	}
	return out
}

// Evaluate is pure: the same inputs and ref always give the same Result.
func Evaluate(in Inputs, ref time.Time) Result {
	pendingByRel := make(map[string][]domain.Action)
	for _, a := range in.Pending {
		if a.PersonID != nil {
			pendingByRel[*a.PersonID] = append(pendingByRel[*a.PersonID], a)
		}
	}

	res := Result{ReferenceDate: domain.Day(ref).Format(domain.DateLayout)}
	states := make(map[string]*domain.RelationshipState, len(in.Relationships))
	lanes := make(map[string]domain.Lane, len(in.Relationships))

	rels := append([]domain.Relationship(nil), in.Relationships...)
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })

	for _, rel := range rels {
		ri := relstate.Input{Relationship: rel, Pending: pendingByRel[rel.ID]}
		if t, ok := in.LastCompleted[rel.ID]; ok {
			ri.LastCompletedAt = &t
		}
		st := relstate.Reduce(ri, ref)
		d := lane.ClassifyRelationship(lane.RelationshipInput{State: st, EarliestInsightAt: rel.EarliestInsightAt}, ref)

		states[rel.ID] = &st
		lanes[rel.ID] = d.Lane
		res.Relationships = append(res.Relationships, RelationshipView{
			RelationshipID: rel.ID,
			Name:           rel.Name,
			State:          st,
			Lane:           d,
		})
	}

	candidates := in.Candidates
	if candidates == nil {
		candidates = in.Pending
	}
	for _, a := range candidates {
		var (
			st      *domain.RelationshipState
			relLane domain.Lane
			signals *domain.EmailSignals
		)
		if a.PersonID != nil {
			st = states[*a.PersonID]
			relLane = lanes[*a.PersonID]
			signals = in.Signals[*a.PersonID]
		}
		res.Candidates = append(res.Candidates, Candidate{
			Action:           a,
			Scored:           scoring.Score(a, st, ref, signals),
			Lane:             lane.ClassifyAction(lane.ActionInput{Action: a, RelationshipLane: relLane}, ref),
			RelationshipLane: relLane,
		})
	}
	SortCandidates(res.Candidates)

	pool := make([]scoring.Candidate, len(res.Candidates))
	for i, c := range res.Candidates {
		pool[i] = scoring.Candidate{Scored: c.Scored, Lane: c.Lane.Lane}
	}
	if best := scoring.SelectBestAction(pool); best != nil {
		for i := range res.Candidates {
			if res.Candidates[i].Action.ID == best.Scored.ActionID {
				c := res.Candidates[i]
				res.Best = &c
				break
			}
		}
	}
	return res
}

// NextMove returns the best Priority or In-Motion candidate that belongs to a
// relationship. It differs from Best only when a higher-scoring candidate has
// no relationship to point at.
func (r *Result) NextMove() *Candidate {
	var attached []Candidate
	for _, c := range r.Candidates {
		if c.Action.PersonID != nil {
			attached = append(attached, c)
		}
	}
	pool := make([]scoring.Candidate, len(attached))
	for i, c := range attached {
		pool[i] = scoring.Candidate{Scored: c.Scored, Lane: c.Lane.Lane}
	}
	best := scoring.SelectBestAction(pool)
	if best == nil {
		return nil
	}
	for _, c := range attached {
		if c.Action.ID == best.Scored.ActionID {
			return &c
		}
	}
	return nil
}

// SortCandidates orders by lane rank, then score descending, then action ID.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		ri, rj := lane.Rank(cs[i].Lane.Lane), lane.Rank(cs[j].Lane.Lane)
		if ri != rj {
			return ri < rj
		}
		if cs[i].Scored.Score != cs[j].Scored.Score {
			return cs[i].Scored.Score > cs[j].Scored.Score
		}
		return cs[i].Action.ID < cs[j].Action.ID
	})
}
