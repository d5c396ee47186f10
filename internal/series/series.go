// Package series turns a user's raw trips and bills into a dense daily
// emissions series and the feature tables the forecasting model consumes.
package series

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/06Faisal/EcoPulse/internal/api"
)

// DefaultTestRatio is the share of rows held out by Split.
const DefaultTestRatio = 0.2

const rollingWindow = 7

// Day is one calendar day of a user's emissions.
type Day struct {
	Date   time.Time // midnight UTC
	Travel float64
	Energy float64
	Total  float64
}

// Row is a Day with the derived model features.
type Row struct {
	Day
	DayIndex  int
	DayOfWeek int // 0 = Monday
	IsWeekend bool
	Rolling7  float64
}

// Features returns the row's model inputs in api.FeatureCols order.
func (r Row) Features() []float64 {
	weekend := 0.0
	if r.IsWeekend {
		weekend = 1.0
	}
	return []float64{float64(r.DayIndex), float64(r.DayOfWeek), weekend, r.Rolling7}
}

// DailyEnergy is the per-day energy emission implied by the latest bill.
// Every earlier bill is ignored.
func DailyEnergy(bills []api.Bill) float64 {
	if len(bills) == 0 {
		return 0
	}
	return bills[len(bills)-1].Units * api.EmissionFactorKgPerKWh / api.BillPeriodDays
}

// BuildDaily aggregates trips per calendar day over the inclusive span between
// the first and last trip date. Trips and bills are expected in ascending
// timestamp order.
func BuildDaily(trips []api.Trip, bills []api.Bill) ([]Day, error) {
	if len(trips) == 0 {
		return nil, api.ErrInsufficientData
	}

	travel := make(map[time.Time]float64, len(trips))
	first := api.CalendarDate(trips[0].Timestamp)
	last := first
	for _, trip := range trips {
		date := api.CalendarDate(trip.Timestamp)
		travel[date] += trip.Emission
		if date.Before(first) {
			first = date
		}
		if date.After(last) {
			last = date
		}
	}

	energy := DailyEnergy(bills)
	span := int(last.Sub(first).Hours()/24) + 1
	days := make([]Day, 0, span)
	for date := first; !date.After(last); date = date.AddDate(0, 0, 1) {
		t := travel[date]
		days = append(days, Day{
			Date:   date,
			Travel: t,
			Energy: energy,
			Total:  t + energy,
		})
	}

	return days, nil
}

// Derive adds calendar and trailing-mean features to a daily series.
func Derive(days []Day) []Row {
	if len(days) == 0 {
		return nil
	}

	totals := Totals(days)
	start := days[0].Date
	rows := make([]Row, len(days))
	for i, day := range days {
		dow := weekday(day.Date)
		rows[i] = Row{
			Day:       day,
			DayIndex:  int(day.Date.Sub(start).Hours() / 24),
			DayOfWeek: dow,
			IsWeekend: dow >= 5,
		}
		if i == 0 {
			// nothing precedes the first day
			rows[i].Rolling7 = stat.Mean(totals, nil)
			continue
		}
		lo := i - rollingWindow
		if lo < 0 {
			lo = 0
		}
		rows[i].Rolling7 = stat.Mean(totals[lo:i], nil)
	}

	return rows
}

// Split partitions rows chronologically: the first floor(n*(1-testRatio))
// rows train, the rest test.
func Split(rows []Row, testRatio float64) (train, test []Row, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("%w: got %v", api.ErrInvalidTestRatio, testRatio)
	}
	if len(rows) < api.MinHistoryDays {
		return nil, nil, fmt.Errorf("%w (have %d)", api.ErrInsufficientHistory, len(rows))
	}

	split := int(float64(len(rows)) * (1 - testRatio))
	return rows[:split], rows[split:], nil
}

// Project extends a feature table horizonDays into the future. Rolling7 is
// the mean of the last known totals and stays fixed across the horizon;
// projected rows carry no emission values.
func Project(rows []Row, horizonDays int) []Row {
	if len(rows) == 0 || horizonDays <= 0 {
		return nil
	}

	last := rows[len(rows)-1]
	lo := len(rows) - rollingWindow
	if lo < 0 {
		lo = 0
	}
	rolling := stat.Mean(RowTotals(rows[lo:]), nil)

	future := make([]Row, horizonDays)
	for i := range future {
		date := last.Date.AddDate(0, 0, i+1)
		dow := weekday(date)
		future[i] = Row{
			Day:       Day{Date: date},
			DayIndex:  last.DayIndex + i + 1,
			DayOfWeek: dow,
			IsWeekend: dow >= 5,
			Rolling7:  rolling,
		}
	}

	return future
}

// Totals returns the Total column.
func Totals(days []Day) []float64 {
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = d.Total
	}
	return out
}

// RowTotals returns the Total column of a feature table.
func RowTotals(rows []Row) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Total
	}
	return out
}

// weekday maps time.Weekday (Sunday = 0) onto Monday = 0 .. Sunday = 6.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
