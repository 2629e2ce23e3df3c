package merge

import (
	"slices"
	"unicode/utf8"

	"github.com/niczy/changerequest/internal/models"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// edit replaces base[start:end] with lines.
type edit struct {
	start int
	end   int
	lines []string
}

// segment is either merged content or an unresolved conflict.
type segment struct {
	lines    []string
	conflict *models.Conflict
}

// linesToRunes maps every distinct line to one rune so that lines holding
// newlines still count as a single element. Surrogates are skipped since
// they do not survive a string round trip.
func linesToRunes(base, other []string) ([]rune, []rune) {
	index := make(map[string]rune, len(base)+len(other))
	next := rune(1)
	encode := func(lines []string) []rune {
		runes := make([]rune, len(lines))
		for i, line := range lines {
			r, ok := index[line]
			if !ok {
				if next == 0xD800 {
					next = 0xE000
				}
				r = next
				index[line] = r
				next++
			}
			runes[i] = r
		}
		return runes
	}
	return encode(base), encode(other)
}

// lineEdits lists the edits turning base into other, ordered by position.
func lineEdits(base, other []string) []edit {
	dmp := diffmatchpatch.New()
	// No deadline: the result must not depend on how fast the host is.
	dmp.DiffTimeout = 0

	baseRunes, otherRunes := linesToRunes(base, other)
	diffs := dmp.DiffMainRunes(baseRunes, otherRunes, false)

	var edits []edit
	var current *edit
	flush := func() {
		if current != nil {
			edits = append(edits, *current)
			current = nil
		}
	}

	baseIdx, otherIdx := 0, 0
	for _, d := range diffs {
		// Each rune stands for one line.
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			baseIdx += n
			otherIdx += n
		case diffmatchpatch.DiffDelete:
			if current == nil {
				current = &edit{start: baseIdx, end: baseIdx}
			}
			baseIdx += n
			current.end = baseIdx
		case diffmatchpatch.DiffInsert:
			if current == nil {
				current = &edit{start: baseIdx, end: baseIdx}
			}
			current.lines = append(current.lines, other[otherIdx:otherIdx+n]...)
			otherIdx += n
		}
	}
	flush()
	return edits
}

func overlaps(e edit, start, end int) bool {
	return e.start == start || e.start < end
}

// apply rebuilds base[start:end] with the given edits applied.
func apply(base []string, start, end int, edits []edit) []string {
	out := []string{}
	pos := start
	for _, e := range edits {
		out = append(out, base[pos:e.start]...)
		out = append(out, e.lines...)
		pos = e.end
	}
	return append(out, base[pos:end]...)
}

// threeWay merges mine and theirs against base. Conflicts are returned
// without references; the caller names them.
func threeWay(base, mine, theirs []string) []segment {
	ours := lineEdits(base, mine)
	others := lineEdits(base, theirs)

	var segments []segment
	emit := func(lines []string) {
		if len(lines) == 0 {
			return
		}
		if n := len(segments); n > 0 && segments[n-1].conflict == nil {
			segments[n-1].lines = append(segments[n-1].lines, lines...)
			return
		}
		segments = append(segments, segment{lines: append([]string(nil), lines...)})
	}

	pos, i, j := 0, 0, 0
	for i < len(ours) || j < len(others) {
		var start int
		switch {
		case i >= len(ours):
			start = others[j].start
		case j >= len(others):
			start = ours[i].start
		default:
			start = min(ours[i].start, others[j].start)
		}

		end := start
		var regionOurs, regionOthers []edit
		for grew := true; grew; {
			grew = false
			for i < len(ours) && overlaps(ours[i], start, end) {
				regionOurs = append(regionOurs, ours[i])
				end = max(end, ours[i].end)
				i++
				grew = true
			}
			for j < len(others) && overlaps(others[j], start, end) {
				regionOthers = append(regionOthers, others[j])
				end = max(end, others[j].end)
				j++
				grew = true
			}
		}

		emit(base[pos:start])
		switch {
		case len(regionOthers) == 0:
			emit(apply(base, start, end, regionOurs))
		case len(regionOurs) == 0:
			emit(apply(base, start, end, regionOthers))
		default:
			proposed := apply(base, start, end, regionOurs)
			current := apply(base, start, end, regionOthers)
			if slices.Equal(proposed, current) {
				emit(proposed)
				break
			}
			segments = append(segments, segment{conflict: &models.Conflict{
				Original: append([]string{}, base[start:end]...),
				Current:  current,
				Proposed: proposed,
			}})
		}
		pos = end
	}
	emit(base[pos:])
	return segments
}
