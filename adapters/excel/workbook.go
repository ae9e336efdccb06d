package excel

import (
	"context"
	"os"
	"path/filepath"

	"gopower/domain/model"
	"gopower/domain/power"
	"gopower/internal/errors"
	"gopower/ports"

	"github.com/xuri/excelize/v2"
)

const (
	SweepSheet        = "Sweep"
	ConfirmationSheet = "Confirmation"
	ModelSheet        = "Model"
)

// WorkbookWriter exports a report as an xlsx workbook. The Sweep sheet has
// one row per sample size and one power column per parameter or effect; the
// Confirmation sheet holds the full summary of the confirmation rerun and the
// Model sheet lists the paths and derived effects when the report carries them.
type WorkbookWriter struct{}

var _ ports.ReportExporter = WorkbookWriter{}

// NewWorkbookWriter creates a workbook exporter
func NewWorkbookWriter() WorkbookWriter {
	return WorkbookWriter{}
}

// Export writes power-<run>.xlsx into dir
func (w WorkbookWriter) Export(ctx context.Context, r *power.Report, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.ExportFailed("xlsx", err)
	}
	path := filepath.Join(dir, "power-"+r.RunID.String()+".xlsx")
	if err := w.Write(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// Write builds the workbook and saves it to path
func (w WorkbookWriter) Write(path string, r *power.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SweepSheet); err != nil {
		return errors.ExportFailed("xlsx", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.ExportFailed("xlsx", err)
	}

	if err := writeSweep(f, r, bold); err != nil {
		return errors.ExportFailed("xlsx", err)
	}
	if r.Confirmation != nil {
		if err := writeConfirmation(f, *r.Confirmation, bold); err != nil {
			return errors.ExportFailed("xlsx", err)
		}
	}
	if r.Model != nil {
		if err := writeModel(f, r.Model, bold); err != nil {
			return errors.ExportFailed("xlsx", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.ExportFailed("xlsx", err)
	}
	return nil
}

func writeSweep(f *excelize.File, r *power.Report, bold int) error {
	var names []string
	if len(r.Sweep) > 0 {
		for _, p := range r.Sweep[0].Parameters {
			names = append(names, p.Name)
		}
	}

	header := []interface{}{"N", "Replications", "Converged"}
	for _, name := range names {
		header = append(header, name)
	}
	if err := writeHeader(f, SweepSheet, header, bold); err != nil {
		return err
	}

	for i, row := range r.Sweep {
		values := []interface{}{row.N, row.Replications, row.Converged}
		for _, name := range names {
			values = append(values, row.Power(name))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SweepSheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

func writeConfirmation(f *excelize.File, row power.PowerRow, bold int) error {
	if _, err := f.NewSheet(ConfirmationSheet); err != nil {
		return err
	}
	header := []interface{}{"Name", "Kind", "N", "Population", "Average", "Bias", "SD", "Average SE", "CI width", "Coverage", "Power"}
	if err := writeHeader(f, ConfirmationSheet, header, bold); err != nil {
		return err
	}

	for i, p := range row.Parameters {
		values := []interface{}{
			p.Name, string(p.Kind), row.N, p.Population, p.EstimateAverage, p.Bias(),
			p.EstimateSD, p.AverageSE, p.AverageCIWidth, p.Coverage, p.Power,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ConfirmationSheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

func writeModel(f *excelize.File, spec *model.Spec, bold int) error {
	if _, err := f.NewSheet(ModelSheet); err != nil {
		return err
	}
	header := []interface{}{"Outcome", "Predictor", "Coefficient", "Population"}
	if err := writeHeader(f, ModelSheet, header, bold); err != nil {
		return err
	}

	rows := make([][]interface{}, 0, len(spec.Paths)+len(spec.Effects))
	for _, p := range spec.Paths {
		rows = append(rows, []interface{}{string(p.Outcome), string(p.Predictor), p.Value().String(), p.TrueValue()})
	}
	for _, e := range spec.Effects {
		rows = append(rows, []interface{}{e.Name, "effect", e.Expression})
	}
	for i, values := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ModelSheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []interface{}, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}
