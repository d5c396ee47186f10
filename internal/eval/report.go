package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/06Faisal/EcoPulse/internal/forest"
)

// ReportWriter writes evaluation results to a directory.
type ReportWriter struct {
	outputDir string
}

// NewReportWriter creates a report writer.
func NewReportWriter(outputDir string) *ReportWriter {
	return &ReportWriter{
		outputDir: outputDir,
	}
}

// WriteAll writes individual_results.json, aggregated_metrics.json and
// evaluation_report.md.
func (w *ReportWriter) WriteAll(report *Report) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := w.writeJSON("individual_results.json", report.Results); err != nil {
		return err
	}
	if err := w.writeJSON("aggregated_metrics.json", report.Aggregate); err != nil {
		return err
	}

	reportPath := filepath.Join(w.outputDir, "evaluation_report.md")
	return os.WriteFile(reportPath, []byte(Markdown(report)), 0644)
}

func (w *ReportWriter) writeJSON(name string, v any) error {
	file, err := os.Create(filepath.Join(w.outputDir, name))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	return nil
}

// Markdown renders the evaluation summary.
func Markdown(report *Report) string {
	agg := report.Aggregate
	var md strings.Builder

	md.WriteString("# EcoPulse Model Evaluation Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.Timestamp.Format("2006-01-02 15:04:05")))

	md.WriteString("## Dataset Overview\n\n")
	md.WriteString(fmt.Sprintf("- **Total Users Evaluated:** %d\n", agg.TotalUsers))
	md.WriteString(fmt.Sprintf("- **Successful Evaluations:** %d\n", agg.SuccessfulEvaluations))
	md.WriteString(fmt.Sprintf("- **Insufficient Data:** %d\n", agg.InsufficientData))
	md.WriteString(fmt.Sprintf("- **Errors:** %d\n\n", agg.Errors))

	md.WriteString("## Model\n\n")
	md.WriteString("- **Algorithm:** Random Forest Regressor\n")
	md.WriteString(fmt.Sprintf("- **Hyperparameters:** n_estimators=%d, min_samples_leaf=%d, random_state=%d\n",
		forest.DefaultNumTrees, forest.DefaultMinSamplesLeaf, forest.DefaultSeed))
	md.WriteString("- **Features:** day_index, day_of_week, is_weekend, rolling_7\n")
	md.WriteString("- **Train/Test Split:** time-ordered 80/20\n\n")

	if agg.SuccessfulEvaluations == 0 {
		md.WriteString("No successful evaluations.\n")
		return md.String()
	}

	md.WriteString("## Performance Metrics (Test Set)\n\n")
	md.WriteString("| Metric | Mean | Std Dev | Min | Max |\n")
	md.WriteString("|--------|------|---------|-----|-----|\n")
	rows := []struct {
		key, label, format string
	}{
		{"mae", "MAE (kg CO2)", "%.3f"},
		{"rmse", "RMSE (kg CO2)", "%.3f"},
		{"r2", "R² Score", "%.3f"},
		{"mape", "MAPE (%)", "%.2f"},
		{"accuracy_within_2kg", "Within ±2kg (%)", "%.1f"},
		{"accuracy_within_5kg", "Within ±5kg (%)", "%.1f"},
	}
	for _, r := range rows {
		s := agg.Metrics[r.key]
		f := r.format
		md.WriteString(fmt.Sprintf("| **%s** | "+f+" | "+f+" | "+f+" | "+f+" |\n", r.label, s.Mean, s.Std, s.Min, s.Max))
	}

	md.WriteString("\n## Feature Importance\n\n")
	md.WriteString("| Feature | Importance |\n")
	md.WriteString("|---------|------------|\n")
	for _, name := range sortedImportance(agg.AvgFeatureImportance) {
		md.WriteString(fmt.Sprintf("| %s | %.3f |\n", name, agg.AvgFeatureImportance[name]))
	}

	md.WriteString("\n## Individual Results\n\n")
	md.WriteString("| User ID | Status | MAE (kg) | RMSE (kg) | R2 | Train Days | Test Days |\n")
	md.WriteString("|---------|--------|----------|-----------|----|------------|-----------|\n")
	for _, r := range report.Results {
		if r.Status != StatusSuccess {
			md.WriteString(fmt.Sprintf("| %s | %s | - | - | - | - | - |\n", r.UserID, r.Status))
			continue
		}
		md.WriteString(fmt.Sprintf("| %s | %s | %.3f | %.3f | %.3f | %d | %d |\n",
			r.UserID, r.Status, r.TestMetrics.MAE, r.TestMetrics.RMSE, r.TestMetrics.R2,
			r.DataStats.TrainDays, r.DataStats.TestDays))
	}

	md.WriteString("\n## Key Findings\n\n")
	r2 := agg.Metrics["r2"].Mean
	switch {
	case r2 > 0.7:
		md.WriteString(fmt.Sprintf("**Strong performance:** average R² of %.3f.\n\n", r2))
	case r2 > 0.5:
		md.WriteString(fmt.Sprintf("**Moderate performance:** average R² of %.3f.\n\n", r2))
	default:
		md.WriteString(fmt.Sprintf("**Needs improvement:** average R² of %.3f.\n\n", r2))
	}
	md.WriteString(fmt.Sprintf("- Average prediction error is %.2f kg CO2\n", agg.Metrics["mae"].Mean))
	md.WriteString(fmt.Sprintf("- %.1f%% of predictions are within ±2kg of actual values\n", agg.Metrics["accuracy_within_2kg"].Mean))
	md.WriteString(fmt.Sprintf("- %.1f%% of predictions are within ±5kg of actual values\n", agg.Metrics["accuracy_within_5kg"].Mean))

	return md.String()
}
