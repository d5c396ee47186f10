// Package seed generates deterministic synthetic trips and bills for
// eco-friendly, moderate and high-emission users.
package seed

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/06Faisal/EcoPulse/internal/api"
	"github.com/06Faisal/EcoPulse/internal/records"
)

// DefaultSeed makes repeated runs produce identical data.
const DefaultSeed = 42

// Profile describes one travel behavior.
type Profile struct {
	Name              string
	BaseDistance      float64 // km per trip
	WeekendMultiplier float64
	Vehicles          []string
	VehicleWeights    []float64
	MinUnits          float64 // monthly kWh range
	MaxUnits          float64
}

var (
	EcoFriendly = Profile{
		Name:              "eco_friendly",
		BaseDistance:      8,
		WeekendMultiplier: 0.5,
		Vehicles:          []string{"Bike", "Walking", "Bus", "Train"},
		VehicleWeights:    []float64{0.4, 0.3, 0.2, 0.1},
		MinUnits:          150,
		MaxUnits:          250,
	}
	Moderate = Profile{
		Name:              "moderate",
		BaseDistance:      15,
		WeekendMultiplier: 0.7,
		Vehicles:          []string{"Car", "Bus", "Bike", "Train"},
		VehicleWeights:    []float64{0.4, 0.3, 0.2, 0.1},
		MinUnits:          250,
		MaxUnits:          400,
	}
	HighEmission = Profile{
		Name:              "high_emission",
		BaseDistance:      25,
		WeekendMultiplier: 1.2,
		Vehicles:          []string{"Car", "Car", "Car", "Bus"},
		VehicleWeights:    []float64{0.7, 0.15, 0.1, 0.05},
		MinUnits:          400,
		MaxUnits:          600,
	}
)

// emissionFactors in kg CO2 per km; unlisted vehicles use otherFactor.
var emissionFactors = map[string]float64{
	"Car":     0.21,
	"Bus":     0.089,
	"Train":   0.041,
	"Bike":    0,
	"Walking": 0,
}

const otherFactor = 0.15

// ProfileFor picks a profile from the user id: "eco" and "high" select the
// matching profile, anything else is moderate.
func ProfileFor(userID string) Profile {
	switch {
	case strings.Contains(userID, "eco"):
		return EcoFriendly
	case strings.Contains(userID, "high"):
		return HighEmission
	default:
		return Moderate
	}
}

// User is one synthetic user and the number of days of history to create.
type User struct {
	ID   string
	Days int
}

// DefaultUsers is the standard seven-user population.
func DefaultUsers() []User {
	return []User{
		{"user_eco_friendly_001", 60},
		{"user_eco_friendly_002", 45},
		{"user_moderate_001", 60},
		{"user_moderate_002", 50},
		{"user_moderate_003", 40},
		{"user_high_emission_001", 60},
		{"user_high_emission_002", 55},
	}
}

// Generator produces synthetic history ending at End.
type Generator struct {
	rng *rand.Rand
	End time.Time
}

// NewGenerator creates a generator whose histories end at end.
func NewGenerator(seed int64, end time.Time) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed)), End: end}
}

// GenerateUser returns days of trips plus two or three monthly bills.
func (g *Generator) GenerateUser(userID string, days int) ([]api.Trip, []api.Bill) {
	profile := ProfileFor(userID)
	start := g.End.AddDate(0, 0, -days)

	var trips []api.Trip
	for day := 0; day < days; day++ {
		date := start.AddDate(0, 0, day)

		numTrips := 1 + g.choice([]float64{0.3, 0.5, 0.2})

		multiplier := 1.0
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			multiplier = profile.WeekendMultiplier
		}
		dayOfYear := float64(day % 365)
		seasonal := 1 + 0.2*g.rng.Float64()*(1+0.3*(dayOfYear/365))

		for i := 0; i < numTrips; i++ {
			vehicle := profile.Vehicles[g.choice(profile.VehicleWeights)]

			base := profile.BaseDistance * multiplier * seasonal
			distance := math.Max(0.5, base+g.rng.NormFloat64()*base*0.3)

			factor, ok := emissionFactors[vehicle]
			if !ok {
				factor = otherFactor
			}
			co2 := math.Max(0, distance*factor+g.rng.NormFloat64()*0.5)

			trips = append(trips, api.Trip{
				UserID:    userID,
				Timestamp: date,
				Distance:  round2(distance),
				Emission:  round2(co2),
				Vehicle:   api.ParseVehicle(vehicle),
			})
		}
	}

	numBills := 2 + g.rng.Intn(2)
	bills := make([]api.Bill, 0, numBills)
	for i := 0; i < numBills; i++ {
		units := profile.MinUnits + g.rng.Float64()*(profile.MaxUnits-profile.MinUnits)
		bills = append(bills, api.Bill{
			UserID:    userID,
			Timestamp: start.AddDate(0, 0, i*30),
			Units:     round2(units),
		})
	}

	return trips, bills
}

// Summary counts what Load inserted.
type Summary struct {
	Users int
	Trips int
	Bills int
}

// Load generates every user and writes the records to sink.
func (g *Generator) Load(ctx context.Context, sink records.Sink, users []User) (Summary, error) {
	var sum Summary
	for _, u := range users {
		trips, bills := g.GenerateUser(u.ID, u.Days)
		for _, t := range trips {
			if err := sink.InsertTrip(ctx, t); err != nil {
				return sum, fmt.Errorf("failed to insert trip for %s: %w", u.ID, err)
			}
		}
		for _, b := range bills {
			if err := sink.InsertBill(ctx, b); err != nil {
				return sum, fmt.Errorf("failed to insert bill for %s: %w", u.ID, err)
			}
		}
		sum.Users++
		sum.Trips += len(trips)
		sum.Bills += len(bills)
	}
	return sum, nil
}

// choice draws an index with the given relative weights.
func (g *Generator) choice(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := g.rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return len(weights) - 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
