package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"medkb/internal/core"
	"medkb/pkg/domain"
)

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run every consistency check and print the report",
		Long: `Loads the knowledge base and reports schema violations, duplicate rules,
conflicting conclusions and dangling references. Exits non-zero when the
report contains errors; warnings alone do not fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.load(cmd.Context()); err != nil {
				return err
			}
			report, err := a.svc.Validate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOut {
				if err := a.printJSON(out, report); err != nil {
					return err
				}
			} else {
				printReport(out, report)
			}
			if !report.Valid() {
				return fmt.Errorf("knowledge base invalid: %d error(s)", len(report.Errors))
			}
			return nil
		},
	}
}

func printReport(w io.Writer, report domain.ValidationReport) {
	fmt.Fprintf(w, "status: %s (%d error(s), %d warning(s))\n", report.Status(), len(report.Errors), len(report.Warnings))
	for _, group := range [][]domain.Violation{report.Errors, report.Warnings} {
		for _, v := range group {
			subject := string(v.Entity)
			if v.EntityID != "" {
				subject += " " + v.EntityID
			}
			fmt.Fprintf(w, "  [%s] %s %s: %s\n", v.Severity, v.Code, subject, v.Message)
		}
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the load summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			return a.printSummary(cmd.OutOrStdout(), summary)
		},
	}
}

func (a *app) printSummary(w io.Writer, s core.StoreSummary) error {
	if a.jsonOut {
		return a.printJSON(w, s)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "source:\t%s\n", s.Source)
	fmt.Fprintf(tw, "version:\t%s\n", s.Version)
	fmt.Fprintf(tw, "last updated:\t%s\n", s.LastUpdated)
	fmt.Fprintf(tw, "status:\t%s\n", s.Status)
	fmt.Fprintf(tw, "errors / warnings:\t%d / %d\n", s.Errors, s.Warnings)
	fmt.Fprintf(tw, "diseases:\t%d\n", s.Diseases)
	fmt.Fprintf(tw, "rules:\t%d\n", s.Rules)
	fmt.Fprintf(tw, "symptoms:\t%d\n", s.Symptoms)
	if s.Unparsed > 0 {
		fmt.Fprintf(tw, "unparsed records:\t%d\n", s.Unparsed)
	}
	fmt.Fprintf(tw, "load time:\t%s (%s)\n", s.LoadedAt.Format("2006-01-02 15:04:05"), s.LoadDuration)
	return tw.Flush()
}

func (a *app) inferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "infer <symptom>...",
		Short: "Rank candidate diseases for the observed symptoms",
		Example: `  medkb infer fever cough
  medkb infer "sore throat" "runny nose"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.load(cmd.Context()); err != nil {
				return err
			}
			out, err := a.svc.Infer(cmd.Context(), args)
			if err != nil {
				return err
			}
			return a.printSuggestions(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) printSuggestions(w io.Writer, out []core.Suggestion) error {
	if a.jsonOut {
		return a.printJSON(w, out)
	}
	if len(out) == 0 {
		fmt.Fprintln(w, "no matching diseases")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tDISEASE\tCONFIDENCE\tRULE")
	for i, s := range out {
		fmt.Fprintf(tw, "%d\t%s (%s)\t%.0f%%\t%s\n", i+1, s.Disease.Name, s.Disease.ID, s.Confidence*100, s.DecisiveRuleID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range out {
		fmt.Fprintf(w, "%s: %s\n", s.Disease.ID, s.Explanation)
	}
	return nil
}

func (a *app) batchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch [file]",
		Short: "Run one inference per input line",
		Long: `Reads comma-separated symptom lists, one case per line, from file or
standard input and infers them concurrently over a single snapshot.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			cases, err := readCases(in)
			if err != nil {
				return err
			}
			if _, err := a.load(cmd.Context()); err != nil {
				return err
			}
			results, err := a.svc.InferBatch(cmd.Context(), cases)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return a.printJSON(w, results)
			}
			for i, out := range results {
				fmt.Fprintf(w, "# case %d: %s\n", i+1, strings.Join(cases[i], ", "))
				if err := a.printSuggestions(w, out); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func readCases(r io.Reader) ([][]string, error) {
	var cases [][]string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cases = append(cases, strings.Split(line, ","))
	}
	return cases, scanner.Err()
}

func (a *app) supportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "support <disease-id>",
		Short: "List the rules and symptoms that would support a disease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.load(cmd.Context()); err != nil {
				return err
			}
			res, err := a.svc.SupportFor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return a.printJSON(w, res)
			}
			fmt.Fprintf(w, "%s (%s)\n", res.Disease.Name, res.Disease.ID)
			for _, sr := range res.SupportingRules {
				fmt.Fprintf(w, "  %s: %s (confidence %.0f%%)\n", sr.Rule.ID, strings.Join(sr.Symptoms, ", "), sr.Confidence*100)
			}
			fmt.Fprintf(w, "evidence: %s\n", strings.Join(res.Evidence, ", "))
			if len(res.Uncovered) > 0 {
				fmt.Fprintf(w, "not covered by any rule: %s\n", strings.Join(res.Uncovered, ", "))
			}
			return nil
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	var symptom string
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find diseases by name or by symptom",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.load(cmd.Context()); err != nil {
				return err
			}
			var (
				found []domain.Disease
				err   error
			)
			if symptom != "" {
				found, err = a.svc.DiseasesBySymptom(symptom)
			} else {
				query := ""
				if len(args) == 1 {
					query = args[0]
				}
				found, err = a.svc.SearchDiseases(query)
			}
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return a.printJSON(w, found)
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			for _, d := range found {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Name, strings.Join(d.Symptoms, ", "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&symptom, "symptom", "", "list diseases that declare this symptom")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored corpus with a JSON document",
		Long: `Parses and validates the document, persists it through the configured
storage driver and prints the resulting summary. An invalid corpus is
still imported so it can be repaired with the edit commands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			summary, err := a.svc.Import(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return a.printSummary(cmd.OutOrStdout(), summary)
		},
	}
}

func (a *app) printResult(w io.Writer, res core.MutationResult) error {
	if a.jsonOut {
		return a.printJSON(w, res)
	}
	for _, c := range res.Changes {
		suffix := ""
		if c.Cascade {
			suffix = " (cascade)"
		}
		fmt.Fprintf(w, "%s %s %s%s\n", c.Action, c.Entity, c.EntityID, suffix)
	}
	fmt.Fprintf(w, "status: %s (%d error(s), %d warning(s))\n", res.Summary.Status, res.Summary.Errors, res.Summary.Warnings)
	return nil
}

// mutation loads the corpus, runs fn and prints its result.
func (a *app) mutation(fn func(cmd *cobra.Command, args []string) (core.MutationResult, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if _, err := a.load(cmd.Context()); err != nil {
			return err
		}
		res, err := fn(cmd, args)
		if err != nil {
			return err
		}
		return a.printResult(cmd.OutOrStdout(), res)
	}
}

func (a *app) symptomCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "symptom", Short: "Edit the symptom registry"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name>",
			Short: "Register a symptom",
			Args:  cobra.ExactArgs(1),
			RunE: a.mutation(func(cmd *cobra.Command, args []string) (core.MutationResult, error) {
				_, res, err := a.svc.AddSymptom(cmd.Context(), args[0])
				return res, err
			}),
		},
		&cobra.Command{
			Use:   "rename <old> <new>",
			Short: "Rename a symptom everywhere it is referenced",
			Args:  cobra.ExactArgs(2),
			RunE: a.mutation(func(cmd *cobra.Command, args []string) (core.MutationResult, error) {
				_, res, err := a.svc.RenameSymptom(cmd.Context(), args[0], args[1])
				return res, err
			}),
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Remove a symptom from the registry, diseases and rules",
			Args:  cobra.ExactArgs(1),
			RunE: a.mutation(func(cmd *cobra.Command, args []string) (core.MutationResult, error) {
				return a.svc.DeleteSymptom(cmd.Context(), args[0])
			}),
		},
	)
	return cmd
}

func (a *app) diseaseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "disease", Short: "Edit diseases"}

	var (
		d        domain.Disease
		register bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a disease; the id defaults to a slug of the name",
		Args:  cobra.NoArgs,
		RunE: a.mutation(func(cmd *cobra.Command, _ []string) (core.MutationResult, error) {
			_, res, err := a.svc.AddDisease(cmd.Context(), d, registerOption(register)...)
			return res, err
		}),
	}
	add.Flags().StringVar(&d.ID, "id", "", "disease id")
	add.Flags().StringVar(&d.Name, "name", "", "display name")
	add.Flags().StringVar(&d.Description, "description", "", "free-text description")
	add.Flags().StringSliceVar(&d.Symptoms, "symptoms", nil, "comma-separated symptoms")
	add.Flags().StringSliceVar(&d.Diagnostics, "diagnostics", nil, "comma-separated diagnostics")
	add.Flags().StringSliceVar(&d.Treatment, "treatment", nil, "comma-separated treatments")
	add.Flags().StringVar(&d.References, "references", "", "references")
	add.Flags().BoolVar(&register, "register-symptoms", false, "add unknown symptoms to the registry")
	_ = add.MarkFlagRequired("name")

	var cascade bool
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a disease",
		Args:  cobra.ExactArgs(1),
		RunE: a.mutation(func(cmd *cobra.Command, args []string) (core.MutationResult, error) {
			policy := core.RejectIfReferenced
			if cascade {
				policy = core.CascadeRules
			}
			return a.svc.DeleteDisease(cmd.Context(), args[0], policy)
		}),
	}
	del.Flags().BoolVar(&cascade, "cascade", false, "also delete the rules concluding this disease")

	cmd.AddCommand(add, del)
	return cmd
}

func registerOption(register bool) []core.AddOption {
	if register {
		return []core.AddOption{core.RegisterSymptoms()}
	}
	return nil
}

func (a *app) ruleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rule", Short: "Edit rules"}

	var (
		r        domain.Rule
		register bool
	)
	add := &cobra.Command{
		Use:     "add",
		Short:   "Add a rule; its id is assigned automatically",
		Example: `  medkb rule add --if fever,cough --then flu --confidence 0.8`,
		Args:    cobra.NoArgs,
		RunE: a.mutation(func(cmd *cobra.Command, _ []string) (core.MutationResult, error) {
			_, res, err := a.svc.AddRule(cmd.Context(), r, registerOption(register)...)
			return res, err
		}),
	}
	add.Flags().StringSliceVar(&r.IfSymptoms, "if", nil, "comma-separated antecedent symptoms")
	add.Flags().StringVar(&r.ThenDiseaseID, "then", "", "concluded disease id")
	add.Flags().Float64Var(&r.Confidence, "confidence", 0, "confidence in (0, 1]")
	add.Flags().BoolVar(&register, "register-symptoms", false, "add unknown antecedent symptoms to the registry")
	_ = add.MarkFlagRequired("if")
	_ = add.MarkFlagRequired("then")
	_ = add.MarkFlagRequired("confidence")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: a.mutation(func(cmd *cobra.Command, args []string) (core.MutationResult, error) {
			return a.svc.DeleteRule(cmd.Context(), args[0])
		}),
	}

	cmd.AddCommand(add, del)
	return cmd
}
