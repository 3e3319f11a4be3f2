package memory

import (
	"sort"
	"strings"

	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/internal/util"
)

// rank orders entries by keyword overlap with query, newest first on ties.
// Entries without overlap are dropped unless the query has no keywords, in
// which case the newest entries are returned.
func rank(entries []core.MemoryEntry, query string, limit int) []core.MemoryEntry {
	terms := util.Keywords(query)
	type scored struct {
		e     core.MemoryEntry
		score int
	}
	cands := make([]scored, 0, len(entries))
	for _, e := range entries {
		score := 0
		if len(terms) > 0 {
			content := strings.ToLower(e.Content)
			for _, t := range terms {
				if strings.Contains(content, t) {
					score++
				}
			}
			if score == 0 {
				continue
			}
		}
		cands = append(cands, scored{e: e, score: score})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].e.CreatedAt.After(cands[j].e.CreatedAt)
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]core.MemoryEntry, len(cands))
	for i, c := range cands {
		out[i] = c.e
	}
	return out
}
