package eval

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ComputeRegression scores predictions against actual values.
func ComputeRegression(yTrue, yPred []float64) (*RegressionMetrics, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("actual and predicted length mismatch: %d vs %d", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return nil, fmt.Errorf("no samples to score")
	}

	n := float64(len(yTrue))
	residuals := make([]float64, len(yTrue))
	floats.SubTo(residuals, yTrue, yPred)

	absSum, sqSum := 0.0, 0.0
	within2, within5 := 0, 0
	for _, r := range residuals {
		a := math.Abs(r)
		absSum += a
		sqSum += r * r
		if a <= 2.0 {
			within2++
		}
		if a <= 5.0 {
			within5++
		}
	}

	mse := sqSum / n
	meanRes, stdRes := stat.PopMeanStdDev(residuals, nil)

	return &RegressionMetrics{
		MAE:          absSum / n,
		MSE:          mse,
		RMSE:         math.Sqrt(mse),
		R2:           rSquared(yTrue, yPred),
		MAPE:         mape(yTrue, yPred) * 100,
		MeanResidual: meanRes,
		StdResidual:  stdRes,
		Within2kg:    float64(within2) / n * 100,
		Within5kg:    float64(within5) / n * 100,
	}, nil
}

// rSquared is the coefficient of determination. A constant target scores 1
// when predicted exactly and 0 otherwise.
func rSquared(yTrue, yPred []float64) float64 {
	mean := stat.Mean(yTrue, nil)
	ssTot := 0.0
	for _, y := range yTrue {
		ssTot += (y - mean) * (y - mean)
	}
	if ssTot == 0 {
		if floats.Equal(yTrue, yPred) {
			return 1
		}
		return 0
	}
	return stat.RSquaredFrom(yPred, yTrue, nil)
}

// mape is the mean absolute percentage error over non-zero targets, 0 when
// every target is zero.
func mape(yTrue, yPred []float64) float64 {
	sum, count := 0.0, 0
	for i, y := range yTrue {
		if y == 0 {
			continue
		}
		sum += math.Abs(y-yPred[i]) / math.Abs(y)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// AggregateResults summarizes successful evaluations.
func AggregateResults(results []UserEvaluation) Aggregate {
	agg := Aggregate{TotalUsers: len(results)}

	var successful []UserEvaluation
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			successful = append(successful, r)
		case StatusInsufficientData:
			agg.InsufficientData++
		case StatusError:
			agg.Errors++
		}
	}
	agg.SuccessfulEvaluations = len(successful)
	if len(successful) == 0 {
		return agg
	}

	columns := map[string]func(*RegressionMetrics) float64{
		"mae":                 func(m *RegressionMetrics) float64 { return m.MAE },
		"rmse":                func(m *RegressionMetrics) float64 { return m.RMSE },
		"r2":                  func(m *RegressionMetrics) float64 { return m.R2 },
		"mape":                func(m *RegressionMetrics) float64 { return m.MAPE },
		"accuracy_within_2kg": func(m *RegressionMetrics) float64 { return m.Within2kg },
		"accuracy_within_5kg": func(m *RegressionMetrics) float64 { return m.Within5kg },
	}
	agg.Metrics = make(map[string]Summary, len(columns))
	for name, get := range columns {
		values := make([]float64, len(successful))
		for i, r := range successful {
			values[i] = get(r.TestMetrics)
		}
		agg.Metrics[name] = summarize(values)
	}

	importances := make(map[string][]float64)
	for _, r := range successful {
		for feature, v := range r.FeatureImportance {
			importances[feature] = append(importances[feature], v)
		}
	}
	agg.AvgFeatureImportance = make(map[string]float64, len(importances))
	for feature, values := range importances {
		agg.AvgFeatureImportance[feature] = stat.Mean(values, nil)
	}

	return agg
}

func summarize(values []float64) Summary {
	mean, std := stat.PopMeanStdDev(values, nil)
	return Summary{
		Mean: mean,
		Std:  std,
		Min:  floats.Min(values),
		Max:  floats.Max(values),
	}
}

// sortedImportance orders features by descending importance.
func sortedImportance(importance map[string]float64) []string {
	names := make([]string, 0, len(importance))
	for name := range importance {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if importance[names[i]] != importance[names[j]] {
			return importance[names[i]] > importance[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
