package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopower/domain/model"
	"gopower/domain/power"
	"gopower/internal/errors"
	"gopower/ports"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown renders a report as a markdown document: run header, model
// summary, sweep table of target powers, selection and the confirmation
// summary.
func Markdown(r *power.Report) []byte {
	var b bytes.Buffer
	targets := reportTargets(r)

	fmt.Fprintf(&b, "# Power analysis: %s\n\n", r.ModelName)
	fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- Model fingerprint: `%s`\n", r.Fingerprint.Short())
	fmt.Fprintf(&b, "- Created: %s\n", r.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Sample sizes: %d to %d step %d\n", r.Plan.From, r.Plan.To, r.Plan.Step)
	fmt.Fprintf(&b, "- Replications: %d per sample size, %d Monte Carlo draws per interval\n",
		r.Plan.Replications, r.Plan.MCDraws)
	fmt.Fprintf(&b, "- Interval level: %.2f, target power: %.2f, seed: %d\n\n",
		r.Plan.CILevel, r.Plan.TargetPower, r.Plan.Seed)

	if r.Model != nil {
		writeModel(&b, r.Model, populations(r))
	}

	b.WriteString("## Sweep\n\n")
	header := append([]string{"N", "Converged"}, targets...)
	writeRow(&b, header)
	writeRule(&b, len(header))
	for _, row := range r.Sweep {
		cells := []string{fmt.Sprint(row.N), fmt.Sprintf("%d/%d", row.Converged, row.Replications)}
		for _, name := range targets {
			cells = append(cells, fmt.Sprintf("%.3f", row.Power(name)))
		}
		writeRow(&b, cells)
	}
	b.WriteString("\n")

	b.WriteString("## Selection\n\n")
	if !r.TargetReached {
		fmt.Fprintf(&b, "Target power %.2f was not reached for %s at any sample size up to %d.\n",
			r.Plan.TargetPower, strings.Join(targets, ", "), r.Plan.To)
		return b.Bytes()
	}
	fmt.Fprintf(&b, "Smallest sample size with power of at least %.2f for %s: **N = %d**.\n\n",
		r.Plan.TargetPower, strings.Join(targets, ", "), r.SelectedN)

	if c := r.Confirmation; c != nil {
		fmt.Fprintf(&b, "## Confirmation at N = %d\n\n", c.N)
		fmt.Fprintf(&b, "%d of %d replications converged.\n\n", c.Converged, c.Replications)
		writeRow(&b, []string{"Name", "Kind", "Population", "Average", "Bias", "SD", "Average SE", "CI width", "Coverage", "Power"})
		writeRule(&b, 10)
		for _, p := range c.Parameters {
			writeRow(&b, []string{
				p.Name, string(p.Kind),
				fmt.Sprintf("%.4f", p.Population),
				fmt.Sprintf("%.4f", p.EstimateAverage),
				fmt.Sprintf("%.4f", p.Bias()),
				fmt.Sprintf("%.4f", p.EstimateSD),
				fmt.Sprintf("%.4f", p.AverageSE),
				fmt.Sprintf("%.4f", p.AverageCIWidth),
				fmt.Sprintf("%.3f", p.Coverage),
				fmt.Sprintf("%.3f", p.Power),
			})
		}
	}
	return b.Bytes()
}

// HTML renders the markdown report as a standalone page
func HTML(r *power.Report) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: "Power analysis: " + r.ModelName,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML(Markdown(r), p, renderer)
}

// writeModel summarises the simulated model: variables, exogenous moments,
// residual variances, paths and derived effects.
func writeModel(b *bytes.Buffer, spec *model.Spec, pop map[string]float64) {
	b.WriteString("## Model\n\n")

	writeRow(b, []string{"Variable", "Kind", "Factors"})
	writeRule(b, 3)
	for _, v := range spec.Variables {
		factors := make([]string, len(v.Factors))
		for i, f := range v.Factors {
			factors[i] = string(f)
		}
		writeRow(b, []string{string(v.Name), string(v.Kind), strings.Join(factors, ", ")})
	}
	b.WriteString("\n")

	if exo := spec.VariablesOfKind(model.KindExogenous); len(exo) > 0 {
		names := make([]string, len(exo))
		for i, v := range exo {
			names[i] = fmt.Sprintf("%s = %g", v.Name, spec.Exogenous.Variance(v.Name))
		}
		fmt.Fprintf(b, "Exogenous variances: %s.\n", strings.Join(names, ", "))
		if len(spec.Exogenous.Covariances) > 0 {
			covs := make([]string, len(spec.Exogenous.Covariances))
			for i, c := range spec.Exogenous.Covariances {
				covs[i] = fmt.Sprintf("%s with %s = %g", c.A, c.B, c.Value)
			}
			fmt.Fprintf(b, "Exogenous covariances: %s.\n", strings.Join(covs, ", "))
		}
		b.WriteString("\n")
	}
	if len(spec.Residuals) > 0 {
		names := make([]string, 0, len(spec.Residuals))
		for name := range spec.Residuals {
			names = append(names, string(name))
		}
		sort.Strings(names)
		for i, name := range names {
			names[i] = fmt.Sprintf("%s = %g", name, spec.Residuals[model.VariableName(name)])
		}
		fmt.Fprintf(b, "Residual variances: %s.", strings.Join(names, ", "))
		if len(spec.Residuals) < len(spec.VariablesOfKind(model.KindEndogenous)) {
			b.WriteString(" Other endogenous variables have unit total variance.")
		}
		b.WriteString("\n\n")
	}

	writeRow(b, []string{"Outcome", "Predictor", "Coefficient", "Population"})
	writeRule(b, 4)
	for _, p := range spec.Paths {
		coef := p.Value().String()
		if !p.Value().IsFree() {
			coef = "fixed " + coef
		}
		writeRow(b, []string{string(p.Outcome), string(p.Predictor), coef, fmt.Sprintf("%.4f", p.TrueValue())})
	}
	b.WriteString("\n")

	if len(spec.Effects) > 0 {
		writeRow(b, []string{"Effect", "Expression", "Population"})
		writeRule(b, 3)
		for _, e := range spec.Effects {
			value := "n/a"
			if v, ok := pop[e.Name]; ok {
				value = fmt.Sprintf("%.4f", v)
			}
			writeRow(b, []string{e.Name, "`" + e.Expression + "`", value})
		}
		b.WriteString("\n")
	}
}

// populations collects the true values recorded in the first tabulated row
func populations(r *power.Report) map[string]float64 {
	pop := make(map[string]float64)
	var rows []power.PowerRow
	if r.Confirmation != nil {
		rows = append(rows, *r.Confirmation)
	}
	rows = append(rows, r.Sweep...)
	if len(rows) > 0 {
		for _, p := range rows[0].Parameters {
			pop[p.Name] = p.Population
		}
	}
	return pop
}

// reportTargets are the names whose power decided the sample size. Plans
// stored without targets fall back the way the sweep resolves them: every
// effect in the table, or every parameter when there are no effects.
func reportTargets(r *power.Report) []string {
	if len(r.Plan.Targets) > 0 {
		return r.Plan.Targets
	}
	if len(r.Sweep) == 0 {
		return nil
	}
	var effects, params []string
	for _, p := range r.Sweep[0].Parameters {
		if p.Kind == power.KindEffect {
			effects = append(effects, p.Name)
		} else {
			params = append(params, p.Name)
		}
	}
	if len(effects) > 0 {
		return effects
	}
	return params
}

func writeRow(b *bytes.Buffer, cells []string) {
	b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
}

func writeRule(b *bytes.Buffer, n int) {
	b.WriteString(strings.Repeat("| --- ", n) + "|\n")
}

// DocumentExporter writes <run>.md and <run>.html into the output directory
type DocumentExporter struct{}

var _ ports.ReportExporter = DocumentExporter{}

// NewDocumentExporter creates the markdown and HTML exporter
func NewDocumentExporter() DocumentExporter {
	return DocumentExporter{}
}

// Export writes both documents and returns the HTML path
func (DocumentExporter) Export(ctx context.Context, r *power.Report, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.ExportFailed("markdown", err)
	}

	base := filepath.Join(dir, "power-"+r.RunID.String())
	if err := os.WriteFile(base+".md", Markdown(r), 0o644); err != nil {
		return "", errors.ExportFailed("markdown", err)
	}
	if err := os.WriteFile(base+".html", HTML(r), 0o644); err != nil {
		return "", errors.ExportFailed("html", err)
	}
	return base + ".html", nil
}
