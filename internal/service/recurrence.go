package service

import (
	"fmt"
	"iter"
	"time"

	"github.com/gymops/backend/internal/models"
)

type Occurrence struct {
	EquipmentID   string    `json:"equipment_id"`
	ScheduledDate time.Time `json:"scheduled_date"`
}

// CoveredEquipment keeps the equipment of the contract's client whose
// category is covered by the contract.
func CoveredEquipment(contract models.Contract, equipment []models.Equipment) []models.Equipment {
	out := make([]models.Equipment, 0, len(equipment))
	seen := map[string]struct{}{}
	for _, eq := range equipment {
		if eq.ClientID != contract.ClientID || !contract.Covers(eq.Category) {
			continue
		}
		if _, dup := seen[eq.ID]; dup {
			continue
		}
		seen[eq.ID] = struct{}{}
		out = append(out, eq)
	}
	return out
}

// ExpectedOccurrences yields every (equipment, date) pair the contract
// requires inside [horizonStart, min(horizonEnd, contract end)], equipment
// major and date ascending. The sequence holds no state between iterations.
func ExpectedOccurrences(contract models.Contract, equipment []models.Equipment, horizonStart, horizonEnd time.Time) iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		from := models.DateOf(horizonStart)
		to := models.DateOf(horizonEnd)
		if !contract.EndDate.IsZero() {
			if end := models.DateOf(contract.EndDate); end.Before(to) {
				to = end
			}
		}
		if to.Before(from) {
			return
		}
		anchor := models.DateOf(contract.StartDate)
		if contract.StartDate.IsZero() {
			anchor = from
		}

		for _, eq := range CoveredEquipment(contract, equipment) {
			eqFrom := from
			if eq.InstallDate != nil {
				if installed := models.DateOf(*eq.InstallDate); installed.After(eqFrom) {
					eqFrom = installed
				}
			}
			for d := range occurrenceDates(anchor, contract.MaintenanceFrequency, eqFrom, to) {
				if !yield(Occurrence{EquipmentID: eq.ID, ScheduledDate: d}) {
					return
				}
			}
		}
	}
}

func validateFrequency(f models.Frequency) error {
	if _, _, ok := frequencyStep(f); !ok {
		return fmt.Errorf("unknown maintenance frequency %q: %w", f, models.ErrInvalidContract)
	}
	return nil
}

// frequencyStep returns the recurrence step as days or calendar months.
func frequencyStep(f models.Frequency) (days int, months int, ok bool) {
	switch f {
	case models.FrequencyWeekly:
		return 7, 0, true
	case models.FrequencyMonthly:
		return 0, 1, true
	case models.FrequencyQuarterly:
		return 0, 3, true
	case models.FrequencyAnnual:
		return 0, 12, true
	default:
		return 0, 0, false
	}
}

// occurrenceDates yields anchor + n*step for every n landing in [from, to].
// Each date is derived from the anchor directly so month clamping never drifts.
func occurrenceDates(anchor time.Time, f models.Frequency, from, to time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		days, months, ok := frequencyStep(f)
		if !ok {
			return
		}
		nth := func(n int) time.Time {
			if days > 0 {
				return anchor.AddDate(0, 0, n*days)
			}
			return addMonthsClamped(anchor, n*months)
		}

		n := 0
		if from.After(anchor) {
			if days > 0 {
				n = int(from.Sub(anchor).Hours()/24) / days
			} else {
				diff := (from.Year()-anchor.Year())*12 + int(from.Month()) - int(anchor.Month())
				n = diff / months
				if n > 0 {
					n--
				}
			}
		}
		for ; ; n++ {
			d := nth(n)
			if d.After(to) {
				return
			}
			if d.Before(from) {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// addMonthsClamped moves t by m calendar months, clamping the day to the
// last day of the target month (Jan 31 + 1 month = Feb 28/29).
func addMonthsClamped(t time.Time, m int) time.Time {
	y, mo, d := t.Date()
	first := time.Date(y, mo+time.Month(m), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
