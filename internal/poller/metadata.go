package poller

import (
	"sort"

	"github.com/bracketpi/bracketd/internal/challonge"
)

// Metadata accompanies a matches:update broadcast so displays can render
// headline state without re-deriving it from the raw payload.
type Metadata struct {
	NextMatchID      string   `json:"nextMatchId,omitempty"`
	NextMatchPlayers []string `json:"nextMatchPlayers,omitempty"`
	PendingCount     int      `json:"pendingCount"`
	OpenCount        int      `json:"openCount"`
	UnderwayCount    int      `json:"underwayCount"`
	CompletedCount   int      `json:"completedCount"`
	TotalCount       int      `json:"totalCount"`
	ProgressPercent  int      `json:"progressPercent"`
}

// BuildMetadata computes counts by state, progress, and the next match up
// (the open, not-yet-underway match with the lowest suggested play order).
func BuildMetadata(matches []challonge.Match) Metadata {
	md := Metadata{TotalCount: len(matches)}

	var candidates []challonge.Match
	for _, m := range matches {
		switch m.State {
		case "complete":
			md.CompletedCount++
		case "open":
			md.OpenCount++
			if m.UnderwayAt != nil {
				md.UnderwayCount++
			} else {
				candidates = append(candidates, m)
			}
		default:
			md.PendingCount++
		}
	}
	if md.TotalCount > 0 {
		md.ProgressPercent = md.CompletedCount * 100 / md.TotalCount
	}

	if len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			return playOrder(candidates[i]) < playOrder(candidates[j])
		})
		next := candidates[0]
		md.NextMatchID = next.ID
		if next.Player1ID != nil {
			md.NextMatchPlayers = append(md.NextMatchPlayers, *next.Player1ID)
		}
		if next.Player2ID != nil {
			md.NextMatchPlayers = append(md.NextMatchPlayers, *next.Player2ID)
		}
	}
	return md
}

func playOrder(m challonge.Match) int {
	if m.SuggestedPlayOrder != nil {
		return *m.SuggestedPlayOrder
	}
	// Unordered matches sort last.
	return 1 << 30
}
