// Package finalize picks the winning options of a poll and projects a single
// winning date onto the owning event's schedule.
package finalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/behzadon/gather/internal/domain"
	"github.com/google/uuid"
)

type Strategy string

const (
	Manual       Strategy = "manual"
	HighestVotes Strategy = "highest_votes"
	MostYesVotes Strategy = "most_yes_votes"
)

// ParseStrategy defaults to HighestVotes when s is empty.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Manual, HighestVotes, MostYesVotes:
		return st, nil
	case "":
		return HighestVotes, nil
	default:
		return "", domain.NewValidationError("strategy", "unknown finalization strategy "+strconv.Quote(s))
	}
}

type Request struct {
	Strategy  Strategy    `json:"strategy"`
	OptionIDs []uuid.UUID `json:"optionIds,omitempty"`
}

// Decision is the outcome of winner selection. Winner is set only when
// exactly one option won.
type Decision struct {
	Strategy Strategy
	Winners  []uuid.UUID
	Winner   *domain.Option
}

// Decide selects the winners of a poll from its options and votes. Removed
// options and the votes on them are not eligible. Nothing is mutated.
func Decide(poll *domain.Poll, options []domain.Option, votes []domain.Vote, req Request) (*Decision, error) {
	eligible := make([]domain.Option, 0, len(options))
	byID := make(map[uuid.UUID]*domain.Option, len(options))
	for i := range options {
		if options[i].PollID != poll.ID || !options[i].Status.Tallied() {
			continue
		}
		eligible = append(eligible, options[i])
	}
	if len(eligible) == 0 {
		return nil, domain.ErrNoOptions
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].OrderIndex < eligible[j].OrderIndex
	})
	for i := range eligible {
		byID[eligible[i].ID] = &eligible[i]
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = HighestVotes
	}
	if strategy == MostYesVotes && poll.VotingSystem != domain.VotingBinary {
		strategy = HighestVotes
	}

	var (
		winners []uuid.UUID
		err     error
	)
	switch strategy {
	case Manual:
		winners, err = manualWinners(byID, req.OptionIDs)
	case HighestVotes:
		winners, err = countWinners(eligible, votes, func(domain.Vote) bool { return true })
	case MostYesVotes:
		winners, err = countWinners(eligible, votes, func(v domain.Vote) bool {
			return v.Value == string(domain.BinaryYes)
		})
	default:
		return nil, domain.NewValidationError("strategy", "unknown finalization strategy "+strconv.Quote(string(strategy)))
	}
	if err != nil {
		return nil, err
	}

	d := &Decision{Strategy: strategy, Winners: winners}
	if len(winners) == 1 {
		w := *byID[winners[0]]
		d.Winner = &w
	}
	return d, nil
}

func manualWinners(eligible map[uuid.UUID]*domain.Option, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, domain.NewValidationError("option_ids", "at least one winning option is required")
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	winners := make([]uuid.UUID, 0, len(ids))
	for i, id := range ids {
		if _, ok := eligible[id]; !ok {
			return nil, domain.NewValidationError(fmt.Sprintf("option_ids[%d]", i), "not an eligible option of this poll")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		winners = append(winners, id)
	}
	return winners, nil
}

// countWinners returns every option sharing the highest count of matching
// votes, in display order.
func countWinners(options []domain.Option, votes []domain.Vote, match func(domain.Vote) bool) ([]uuid.UUID, error) {
	counts := make(map[uuid.UUID]int, len(options))
	for _, o := range options {
		counts[o.ID] = 0
	}
	for _, v := range votes {
		if _, ok := counts[v.OptionID]; ok && match(v) {
			counts[v.OptionID]++
		}
	}

	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}
	if best == 0 {
		return nil, domain.ErrNoVotes
	}

	var winners []uuid.UUID
	for _, o := range options {
		if counts[o.ID] == best {
			winners = append(winners, o.ID)
		}
	}
	return winners, nil
}

// Schedule is the owning event's new start and optional end.
type Schedule struct {
	Date     time.Time
	StartsAt time.Time
	EndsAt   *time.Time
}

// ProjectSchedule moves the event onto the winning option's calendar date.
// A time slot on the option supplies the new start and end; otherwise the
// event keeps its clock time and duration, or starts at midnight when it had
// no start. The result is nil when the option carries no date.
func ProjectSchedule(event *domain.Event, winner *domain.Option) (*Schedule, error) {
	dt := winner.Metadata.DateTime
	if dt == nil {
		return nil, nil
	}
	date, err := dt.CalendarDate()
	if err != nil {
		return nil, err
	}

	loc := event.Location()
	y, m, d := date.Date()
	s := &Schedule{Date: date}

	slotStart, slotEnd, ok, err := dt.FirstSlot()
	if err != nil {
		return nil, err
	}
	switch {
	case ok:
		s.StartsAt = time.Date(y, m, d, slotStart.Hour(), slotStart.Minute(), 0, 0, loc)
		end := time.Date(y, m, d, slotEnd.Hour(), slotEnd.Minute(), 0, 0, loc)
		s.EndsAt = &end
	case event.StartsAt != nil:
		prev := event.StartsAt.In(loc)
		s.StartsAt = time.Date(y, m, d, prev.Hour(), prev.Minute(), prev.Second(), 0, loc)
		if event.EndsAt != nil {
			end := s.StartsAt.Add(event.EndsAt.Sub(*event.StartsAt))
			s.EndsAt = &end
		}
	default:
		s.StartsAt = time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return s, nil
}
