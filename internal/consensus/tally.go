package consensus

import "github.com/Rogers-F/wavequorum/internal/domain"

// tally accumulates votes across batches of one consensus run.
type tally struct {
	votes map[string]int
	// first holds the earliest-produced candidate for each key.
	first map[string]domain.CandidateOutput
}

func newTally() *tally {
	return &tally{
		votes: make(map[string]int),
		first: make(map[string]domain.CandidateOutput),
	}
}

func (t *tally) add(c domain.CandidateOutput) {
	t.votes[c.Key]++
	if prev, ok := t.first[c.Key]; !ok || c.ProducedBefore(prev) {
		t.first[c.Key] = c
	}
}

// leader returns the top candidate and its lead over the runner-up. Ties for
// the top count go to the earliest-produced candidate and yield a lead of 0.
func (t *tally) leader() (domain.CandidateOutput, int, bool) {
	var (
		top      domain.CandidateOutput
		topVotes int
		second   int
		found    bool
	)
	for key, n := range t.votes {
		c := t.first[key]
		switch {
		case !found:
			top, topVotes, found = c, n, true
		case n > topVotes:
			second = topVotes
			top, topVotes = c, n
		case n == topVotes:
			second = n
			if c.ProducedBefore(top) {
				top = c
			}
		case n > second:
			second = n
		}
	}
	return top, topVotes - second, found
}

// winner applies the lead-by-k rule.
func (t *tally) winner(k int) (domain.CandidateOutput, bool) {
	top, lead, ok := t.leader()
	if !ok || lead < k {
		return domain.CandidateOutput{}, false
	}
	return top, true
}

func (t *tally) snapshot() map[string]int {
	out := make(map[string]int, len(t.votes))
	for k, v := range t.votes {
		out[k] = v
	}
	return out
}
