package api

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseVehicle(t *testing.T) {
	tests := []struct {
		in   string
		want VehicleCategory
	}{
		{"Car", VehicleCar},
		{"  BUS ", VehicleBus},
		{"bike", VehicleBike},
		{"Train", VehicleTrain},
		{"Walking", VehicleUnknown},
		{"", VehicleUnknown},
	}

	for _, tt := range tests {
		if got := ParseVehicle(tt.in); got != tt.want {
			t.Errorf("ParseVehicle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in       string
		wantDate string
	}{
		{"2024-03-05", "2024-03-05"},
		{"2024-03-05T23:10:00", "2024-03-05"},
		{"2024-03-05T23:10:00.123456", "2024-03-05"},
		{"2024-03-05T23:10:00Z", "2024-03-05"},
		{"2024-03-05T01:00:00+05:00", "2024-03-05"},
		{"2024-03-05 garbage", "2024-03-05"},
	}

	for _, tt := range tests {
		ts, err := ParseTimestamp(tt.in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) error: %v", tt.in, err)
		}
		if got := CalendarDate(ts).Format("2006-01-02"); got != tt.wantDate {
			t.Errorf("CalendarDate(ParseTimestamp(%q)) = %s, want %s", tt.in, got, tt.wantDate)
		}
	}

	for _, bad := range []string{"", "yesterday", "03/05/2024"} {
		if _, err := ParseTimestamp(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseTimestamp(%q) error = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestTripInputValidation(t *testing.T) {
	vehicle := "CAR"
	trip, err := TripInput{UserID: " u1 ", Date: "2024-01-01", Distance: 12, CO2: 2.5, Vehicle: &vehicle}.Trip()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trip.UserID != "u1" || trip.Vehicle != VehicleCar || trip.Emission != 2.5 {
		t.Errorf("unexpected trip: %+v", trip)
	}

	noVehicle, err := TripInput{UserID: "u1", Date: "2024-01-01"}.Trip()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if noVehicle.Vehicle != VehicleUnknown {
		t.Errorf("absent vehicle = %q, want unknown", noVehicle.Vehicle)
	}

	bad := []TripInput{
		{UserID: "", Date: "2024-01-01"},
		{UserID: "u1", Date: "nope"},
		{UserID: "u1", Date: "2024-01-01", Distance: -1},
		{UserID: "u1", Date: "2024-01-01", CO2: -0.1},
	}
	for i, in := range bad {
		if _, err := in.Trip(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("case %d: error = %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestBillInputValidation(t *testing.T) {
	if _, err := (BillInput{UserID: "u1", Date: "2024-01-01", Units: -5}).Bill(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative units error = %v, want ErrInvalidInput", err)
	}

	bill, err := BillInput{UserID: "u1", Date: "2024-01-01T10:00:00Z", Units: 300}.Bill()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bill.Timestamp.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("bill timestamp = %v", bill.Timestamp)
	}
}

func TestForecastResultEmptyMetrics(t *testing.T) {
	data, err := json.Marshal(ForecastResult{UserID: "u1", HorizonDays: 7})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"metrics":{}`) {
		t.Errorf("expected empty metrics object, got %s", data)
	}

	data, err = json.Marshal(ForecastResult{UserID: "u1", Metrics: &ModelMetadata{MAE: 1.5}})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"mae":1.5`) {
		t.Errorf("expected metrics to be encoded, got %s", data)
	}
}

func TestBehaviorVectorRoundTrip(t *testing.T) {
	b := BehaviorVector{1, 2, 3, 0.4, 0.3, 0.2, 0.1}
	if got := BehaviorFromValues(b.Values()); got != b {
		t.Errorf("BehaviorFromValues(Values()) = %+v, want %+v", got, b)
	}
}
