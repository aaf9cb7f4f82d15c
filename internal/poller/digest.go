package poller

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/bracketpi/bracketd/internal/challonge"
)

// Digest computes a deterministic hash over the canonical projection of
// match state. Two polls producing the same tuples produce the same digest,
// so a broadcast is only warranted when it changes.
func Digest(matches []challonge.Match) string {
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		lines = append(lines, canonicalLine(m))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalLine projects one match onto the fields whose change should be
// visible on a display: participants, scores, state, winner, station and
// underway marker.
func canonicalLine(m challonge.Match) string {
	var b strings.Builder
	b.WriteString(m.ID)
	b.WriteByte('|')
	b.WriteString(m.State)
	b.WriteByte('|')
	b.WriteString(deref(m.Player1ID))
	b.WriteByte('|')
	b.WriteString(deref(m.Player2ID))
	b.WriteByte('|')
	b.WriteString(scoreField(m))
	b.WriteByte('|')
	b.WriteString(deref(m.WinnerID))
	b.WriteByte('|')
	b.WriteString(deref(m.StationID))
	b.WriteByte('|')
	if m.UnderwayAt != nil {
		b.WriteString(fmt.Sprintf("%d", m.UnderwayAt.Unix()))
	}
	return b.String()
}

// scoreField prefers the per-participant score entries, sorted for
// stability; the flat scores string is the fallback for older payloads.
func scoreField(m challonge.Match) string {
	if len(m.PointsByParticipant) == 0 {
		return m.Scores
	}
	parts := make([]string, 0, len(m.PointsByParticipant))
	for _, p := range m.PointsByParticipant {
		parts = append(parts, p.ParticipantID+"="+p.ScoreSet)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
