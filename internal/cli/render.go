package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/re-cinq/mend/internal/executor"
	"github.com/re-cinq/mend/internal/observe"
	"github.com/re-cinq/mend/internal/plan"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
	headColor = color.New(color.Bold)
)

// statusSymbol maps a terminal status to its glyph and color.
func statusSymbol(status executor.Status) (string, *color.Color) {
	switch status {
	case executor.StatusGoalReached:
		return "✓", okColor
	case executor.StatusAborted:
		return "⊘", warnColor
	case executor.StatusExhaustedReplans, executor.StatusNoPlan:
		return "✗", warnColor
	default:
		return "✗", failColor
	}
}

// renderReport prints the execution report, either as human output or as
// one JSON record per line.
func renderReport(w io.Writer, report executor.Report, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, rec := range report.Records {
			_ = enc.Encode(rec)
		}
		_ = enc.Encode(map[string]any{"status": report.Status, "replans": report.Replans})
		return
	}

	for _, rec := range report.Records {
		c := dimColor
		switch rec.Level {
		case "warn":
			c = warnColor
		case "error":
			c = failColor
		}
		action := ""
		if rec.Action != "" {
			action = rec.Action + ": "
		}
		c.Fprintf(w, "[%03d] %s%s\n", rec.CorrelationID, action, rec.Message)
	}

	symbol, c := statusSymbol(report.Status)
	c.Fprintf(w, "%s %s", symbol, report.Status)
	if report.Replans > 0 {
		dimColor.Fprintf(w, " (%d replan(s))", report.Replans)
	}
	fmt.Fprintln(w)
}

// renderPlan prints a plan with its explanation notes.
func renderPlan(w io.Writer, p plan.Plan) {
	if p.Empty() {
		okColor.Fprintln(w, "✓ nothing to do")
		for _, note := range p.Notes {
			dimColor.Fprintf(w, "  %s\n", note)
		}
		return
	}
	headColor.Fprintf(w, "Plan (estimated cost %.2f)\n", p.EstimatedCost)
	for i, step := range p.Steps {
		fmt.Fprintf(w, "  %d. %s", i+1, step.Name)
		if params := plan.DescribeParams(step.Params); params != "" {
			fmt.Fprintf(w, " [%s]", params)
		}
		dimColor.Fprintf(w, "  (cost %.2f)\n", step.Cost)
	}
	headColor.Fprintln(w, "Notes")
	for _, note := range p.Notes {
		dimColor.Fprintf(w, "  %s\n", note)
	}
}

// renderState prints a one-shot human view of the observed state.
func renderState(w io.Writer, s observe.RepoState) {
	headColor.Fprintf(w, "%s\n", s.Ref.Name)
	if s.Ref.Upstream != "" {
		fmt.Fprintf(w, "  upstream   %s (+%d -%d)\n", s.Ref.Upstream, s.DivergedLocal, s.DivergedRemote)
	} else {
		dimColor.Fprintln(w, "  upstream   none")
	}
	fmt.Fprintf(w, "  tree       clean=%t staged=%t stashes=%d\n", s.WorkingTreeClean, s.StagedChanges, s.StashEntries)
	if s.OngoingRebase || s.OngoingMerge {
		warnColor.Fprintf(w, "  in-flight  rebase=%t merge=%t\n", s.OngoingRebase, s.OngoingMerge)
	}
	if len(s.Conflicts) > 0 {
		failColor.Fprintf(w, "  conflicts  %d (difficulty %.1f)\n", len(s.Conflicts), s.ConflictDifficulty)
		for _, c := range s.Conflicts {
			fmt.Fprintf(w, "    %-40s %s, %d hunk(s), trivial %.0f%%\n", c.Path, c.Type, c.Hunks, c.TrivialRatio*100)
		}
	}
	riskC := okColor
	switch s.RiskLevel {
	case observe.RiskMedium:
		riskC = warnColor
	case observe.RiskHigh:
		riskC = failColor
	}
	riskC.Fprintf(w, "  risk       %s", s.RiskLevel)
	fmt.Fprintln(w)
	dimColor.Fprintf(w, "  staleness  %.2f\n", s.StalenessScore)
}
