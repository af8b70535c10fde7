package domain

import (
	"math"

	"github.com/google/uuid"
)

// NoVotesAverageRank is the average rank reported for an option nobody
// ranked, so that it sorts after every ranked option.
const NoVotesAverageRank = 999.0

// Tally is the computed score of one option under its poll's voting system.
type Tally struct {
	OptionID   uuid.UUID    `json:"optionId"`
	System     VotingSystem `json:"votingSystem"`
	Score      float64      `json:"score"`
	Percentage float64      `json:"percentage"`
	TotalVotes int          `json:"totalVotes"`
	Breakdown  Breakdown    `json:"breakdown"`
}

// Breakdown is the human facing detail behind a score. Counts are keyed by
// binary value, by "selected" for approval, or by star rating "1".."5".
type Breakdown struct {
	Counts      map[string]int     `json:"counts,omitempty"`
	Percentages map[string]float64 `json:"percentages,omitempty"`
	Average     float64            `json:"average,omitempty"`
	AverageRank float64            `json:"averageRank,omitempty"`
}

// Count returns the number of votes recorded under key.
func (t Tally) Count(key string) int {
	return t.Breakdown.Counts[key]
}

// OptionResult pairs an option with its tally for poll-wide listings.
type OptionResult struct {
	Option Option `json:"option"`
	Tally  Tally  `json:"tally"`
}

type PollResults struct {
	PollID       uuid.UUID      `json:"pollId"`
	VotingSystem VotingSystem   `json:"votingSystem"`
	TotalVoters  int            `json:"totalVoters"`
	Results      []OptionResult `json:"results"`
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
