// Package intel derives discount-frequency analytics from history.
//
// Compute is a pure function of a key's past occurrences and its current
// state. Engine runs it over every known key of a store and replaces the
// stored records wholesale.
package intel

import (
	"math"
	"sort"
	"time"

	"github.com/hazyhaar/bravo/specials/internal/store"
)

// Class thresholds in days, inclusive.
const (
	FrequentMaxDays  = 21
	SometimesMaxDays = 56
)

// Input is everything Compute looks at for one key.
type Input struct {
	// Windows are the past occurrences. The running occurrence of an active
	// key is not part of it; IsActive counts it.
	Windows         []store.HistoryWindow
	IsActive        bool
	CurrentDiscount *int
	Today           time.Time
}

// Stats is the derived part of an intel record. Nil pointers and an empty
// Class mean undefined.
type Stats struct {
	AvgFrequencyDays      *int
	Class                 string
	DaysSinceLastSpecial  *int
	ExpectedDaysUntilNext *int
	LastSpecialDate       *time.Time
	LastDiscountPct       *int
	TotalTimesOnSpecial   int
}

// Compute derives Stats. It does not modify in.Windows.
func Compute(in Input) Stats {
	today := store.Day(in.Today)
	ws := sortedWindows(in.Windows)

	st := Stats{TotalTimesOnSpecial: len(ws)}
	if in.IsActive {
		st.TotalTimesOnSpecial++
	}
	st.AvgFrequencyDays = averageGap(ws)
	st.Class = Classify(st.TotalTimesOnSpecial, st.AvgFrequencyDays)

	var latest *store.HistoryWindow
	for i := range ws {
		if latest == nil || !ws[i].LastSeen.Before(latest.LastSeen) {
			latest = &ws[i]
		}
	}

	switch {
	case in.IsActive:
		zero := 0
		st.DaysSinceLastSpecial = &zero
		expected := 0
		st.ExpectedDaysUntilNext = &expected
		st.LastSpecialDate = &today
		st.LastDiscountPct = copyInt(in.CurrentDiscount)
	case latest != nil:
		since := max(0, store.DaysBetween(latest.LastSeen, today))
		st.DaysSinceLastSpecial = &since
		last := store.Day(latest.LastSeen)
		st.LastSpecialDate = &last
		st.LastDiscountPct = copyInt(latest.DiscountPct)
		if st.AvgFrequencyDays != nil {
			expected := max(0, *st.AvgFrequencyDays-since)
			st.ExpectedDaysUntilNext = &expected
		}
	}
	return st
}

// Classify buckets an average gap. total is the number of occurrences
// including the running one.
func Classify(total int, avg *int) string {
	switch {
	case total == 0:
		return store.ClassNever
	case avg == nil:
		return ""
	case *avg <= FrequentMaxDays:
		return store.ClassFrequent
	case *avg <= SometimesMaxDays:
		return store.ClassSometimes
	default:
		return store.ClassRare
	}
}

// averageGap is the rounded mean of the positive gaps between consecutive
// windows. Adjoining or overlapping windows contribute nothing.
func averageGap(ws []store.HistoryWindow) *int {
	if len(ws) < 2 {
		return nil
	}
	sum, n := 0, 0
	for i := 1; i < len(ws); i++ {
		gap := store.DaysBetween(ws[i-1].LastSeen, ws[i].FirstSeen)
		if gap > 0 {
			sum += gap
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := int(math.Round(float64(sum) / float64(n)))
	return &avg
}

func sortedWindows(in []store.HistoryWindow) []store.HistoryWindow {
	ws := make([]store.HistoryWindow, len(in))
	copy(ws, in)
	sort.SliceStable(ws, func(i, j int) bool {
		if !ws[i].FirstSeen.Equal(ws[j].FirstSeen) {
			return ws[i].FirstSeen.Before(ws[j].FirstSeen)
		}
		return ws[i].LastSeen.Before(ws[j].LastSeen)
	})
	return ws
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
