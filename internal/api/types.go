package api

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Fixed conversion constants for the energy component of the daily series.
const (
	EmissionFactorKgPerKWh = 0.45 // kg CO2 per kWh
	BillPeriodDays         = 30.0 // days a single bill is amortized over
)

// Pipeline thresholds and defaults
const (
	MinHistoryDays     = 14
	MinClusterTrips    = 10
	MinClusterUsers    = 3
	DefaultHorizonDays = 7
	MaxHorizonDays     = 365
)

// FeatureCols are the regressor inputs, in column order.
var FeatureCols = []string{"day_index", "day_of_week", "is_weekend", "rolling_7"}

// VehicleCategory is the bounded set of transport modes a trip can carry.
type VehicleCategory string

const (
	VehicleCar     VehicleCategory = "car"
	VehicleBus     VehicleCategory = "bus"
	VehicleBike    VehicleCategory = "bike"
	VehicleTrain   VehicleCategory = "train"
	VehicleUnknown VehicleCategory = "unknown"
)

// ParseVehicle resolves free-form input to a VehicleCategory (case-insensitive).
// Anything unrecognized, including the empty string, is VehicleUnknown.
func ParseVehicle(raw string) VehicleCategory {
	switch VehicleCategory(strings.ToLower(strings.TrimSpace(raw))) {
	case VehicleCar:
		return VehicleCar
	case VehicleBus:
		return VehicleBus
	case VehicleBike:
		return VehicleBike
	case VehicleTrain:
		return VehicleTrain
	default:
		return VehicleUnknown
	}
}

// Trip is one recorded journey.
type Trip struct {
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"date"`
	Distance  float64         `json:"distance"`
	Emission  float64         `json:"co2"` // kg CO2
	Vehicle   VehicleCategory `json:"vehicle"`
}

// Bill is one utility bill.
type Bill struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"date"`
	Units     float64   `json:"units"` // kWh
}

// TripInput is the wire form of a trip submission.
type TripInput struct {
	UserID   string  `json:"user_id"`
	Date     string  `json:"date"`
	Distance float64 `json:"distance"`
	CO2      float64 `json:"co2"`
	Vehicle  *string `json:"vehicle,omitempty"`
}

// BillInput is the wire form of a bill submission.
type BillInput struct {
	UserID string  `json:"user_id"`
	Date   string  `json:"date"`
	Units  float64 `json:"units"`
}

// Trip validates the submission and converts it to a Trip.
func (in TripInput) Trip() (Trip, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return Trip{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	ts, err := ParseTimestamp(in.Date)
	if err != nil {
		return Trip{}, err
	}
	if err := nonNegative("distance", in.Distance); err != nil {
		return Trip{}, err
	}
	if err := nonNegative("co2", in.CO2); err != nil {
		return Trip{}, err
	}

	vehicle := VehicleUnknown
	if in.Vehicle != nil {
		vehicle = ParseVehicle(*in.Vehicle)
	}

	return Trip{
		UserID:    strings.TrimSpace(in.UserID),
		Timestamp: ts,
		Distance:  in.Distance,
		Emission:  in.CO2,
		Vehicle:   vehicle,
	}, nil
}

// Bill validates the submission and converts it to a Bill.
func (in BillInput) Bill() (Bill, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return Bill{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	ts, err := ParseTimestamp(in.Date)
	if err != nil {
		return Bill{}, err
	}
	if err := nonNegative("units", in.Units); err != nil {
		return Bill{}, err
	}

	return Bill{
		UserID:    strings.TrimSpace(in.UserID),
		Timestamp: ts,
		Units:     in.Units,
	}, nil
}

// ParseTimestamp accepts RFC 3339, a zone-less ISO datetime or a plain
// YYYY-MM-DD prefix. Zone-less values are taken as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse("2006-01-02T15:04:05.999999999", raw); err == nil {
		return ts, nil
	}
	if len(raw) >= 10 {
		if ts, err := time.Parse("2006-01-02", raw[:10]); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrInvalidInput, raw)
}

// CalendarDate truncates a timestamp to its calendar day in its own offset,
// returned as midnight UTC.
func CalendarDate(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be finite", ErrInvalidInput, field)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s must be >= 0", ErrInvalidInput, field)
	}
	return nil
}

// ModelMetadata is persisted next to each user's fitted model.
type ModelMetadata struct {
	UserID            string             `json:"user_id"`
	MAE               float64            `json:"mae"`
	BaselineMAE       float64            `json:"baseline_mae"`
	TrainDays         int                `json:"train_days"`
	TestDays          int                `json:"test_days"`
	FeatureCols       []string           `json:"feature_cols"`
	ModelType         string             `json:"model_type,omitempty"`
	Hyperparameters   map[string]float64 `json:"hyperparameters,omitempty"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
}

// TrainResult is returned by a training run.
type TrainResult struct {
	Status  string        `json:"status"`
	Metrics ModelMetadata `json:"metrics"`
}

// DailyForecast is one projected day.
type DailyForecast struct {
	Day   string  `json:"day"` // YYYY-MM-DD
	Value float64 `json:"value"`
}

// ForecastResult is returned by a forecast. Metrics is nil when the model
// was stored without metadata.
type ForecastResult struct {
	UserID      string          `json:"user_id"`
	HorizonDays int             `json:"horizon_days"`
	Total       float64         `json:"forecast_total"`
	Daily       []DailyForecast `json:"daily_forecast"`
	Metrics     *ModelMetadata  `json:"metrics"`
}

// MarshalJSON encodes absent metrics as an empty object.
func (r ForecastResult) MarshalJSON() ([]byte, error) {
	type plain ForecastResult
	var metrics any = struct{}{}
	if r.Metrics != nil {
		metrics = r.Metrics
	}
	return json.Marshal(struct {
		plain
		Metrics any `json:"metrics"`
	}{plain: plain(r), Metrics: metrics})
}

// Cluster labels, ordered by ascending emission intensity.
const (
	LabelEcoFriendly  = "Eco-friendly"
	LabelModerate     = "Moderate"
	LabelHighEmission = "High-emission"
)

// RankLabels maps emission rank to label.
var RankLabels = []string{LabelEcoFriendly, LabelModerate, LabelHighEmission}

// BehaviorVector is a user's clustering input.
type BehaviorVector struct {
	AvgDailyTravel float64 `json:"avg_daily_travel"`
	AvgDailyEnergy float64 `json:"avg_daily_energy"`
	TripsPerDay    float64 `json:"trips_per_day"`
	CarPct         float64 `json:"car_pct"`
	BusPct         float64 `json:"bus_pct"`
	BikePct        float64 `json:"bike_pct"`
	TrainPct       float64 `json:"train_pct"`
}

// Values returns the vector in feature order.
func (b BehaviorVector) Values() []float64 {
	return []float64{b.AvgDailyTravel, b.AvgDailyEnergy, b.TripsPerDay, b.CarPct, b.BusPct, b.BikePct, b.TrainPct}
}

// BehaviorFromValues is the inverse of Values.
func BehaviorFromValues(v []float64) BehaviorVector {
	return BehaviorVector{
		AvgDailyTravel: v[0],
		AvgDailyEnergy: v[1],
		TripsPerDay:    v[2],
		CarPct:         v[3],
		BusPct:         v[4],
		BikePct:        v[5],
		TrainPct:       v[6],
	}
}

// UserCluster is one user's assignment.
type UserCluster struct {
	UserID       string         `json:"user_id"`
	ClusterID    int            `json:"cluster_id"`
	ClusterLabel string         `json:"cluster_label"`
	Features     BehaviorVector `json:"features"`
}

// ClusterCentroid summarizes one cluster center.
type ClusterCentroid struct {
	ClusterID    int    `json:"cluster_id"`
	ClusterLabel string `json:"cluster_label"`
	Size         int    `json:"size"`
	BehaviorVector
}

// ClusterResult is returned by a clustering run.
type ClusterResult struct {
	Status    string            `json:"status"`
	Users     []UserCluster     `json:"clusters"`
	Centroids []ClusterCentroid `json:"cluster_centroids"`
}
