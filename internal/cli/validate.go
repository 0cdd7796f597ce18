package cli

import (
	"fmt"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/services/program"

	"github.com/spf13/cobra"
)

// Issue is one construction-time problem found in a rules file.
type Issue struct {
	Path    string `json:"path"` // e.g. rules[1]
	ID      string `json:"id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Programs int     `json:"programs"`
	Rules    int     `json:"rules"`
	Issues   []Issue `json:"issues,omitempty"`
}

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules.yaml>",
		Short: "Check programs and rules as they would be checked on creation",
		Long: `Validate runs every program and rule in the file through the same
construction-time checks the service applies, and also checks that rules
point at programs in the file and that at most one BASE program exists.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()), args[0])
		},
	}
	return cmd
}

func runValidate(f *OutputFormatter, path string) error {
	file, err := LoadRules(path)
	if err != nil {
		if f.Format == "json" {
			_ = f.JSON(Response{Status: "error", Error: err.Error()})
		} else {
			f.Printf("✗ %v\n", err)
		}
		return WrapExitError(ExitCommandError, "cannot load rules", err)
	}
	f.VerboseLog("loaded %d program(s) and %d rule(s) from %s", len(file.Programs), len(file.Rules), path)

	res := Validate(file)
	if f.Format == "json" {
		status := "ok"
		if !res.Valid {
			status = "error"
		}
		if err := f.JSON(Response{Status: status, Data: res}); err != nil {
			return err
		}
	} else {
		printValidation(f, res)
	}

	if !res.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d issue(s)", len(res.Issues)))
	}
	return nil
}

func printValidation(f *OutputFormatter, res ValidationResult) {
	f.Printf("programs: %d\n", res.Programs)
	f.Printf("rules: %d\n", res.Rules)
	if res.Valid {
		f.Printf("✓ rules file valid\n")
		return
	}
	f.Printf("✗ validation failed (%d issues)\n", len(res.Issues))
	for _, is := range res.Issues {
		label := is.Path
		if is.ID != "" {
			label += " " + is.ID
		}
		if is.Field != "" {
			f.Printf("  %s: %s: %s\n", label, is.Field, is.Message)
		} else {
			f.Printf("  %s: %s\n", label, is.Message)
		}
	}
}

// Validate checks every entry of file and never stops at the first problem.
func Validate(file *RulesFile) ValidationResult {
	cat := file.catalog()
	res := ValidationResult{Programs: len(file.Programs), Rules: len(file.Rules)}

	programs := map[string]bool{}
	bases := 0
	for i, in := range file.Programs {
		path := fmt.Sprintf("programs[%d]", i)
		res.Issues = append(res.Issues, issues(path, in.ProgramID, program.ValidateProgram(cat, in))...)
		if in.ProgramID == "" {
			res.Issues = append(res.Issues, Issue{Path: path, Field: "programId", Message: "required in a rules file"})
		} else if programs[in.ProgramID] {
			res.Issues = append(res.Issues, Issue{Path: path, ID: in.ProgramID, Field: "programId", Message: "duplicate program id"})
		}
		programs[in.ProgramID] = true
		if in.Type == program.ProgramTypeBase {
			bases++
			if bases > 1 {
				res.Issues = append(res.Issues, Issue{Path: path, ID: in.ProgramID, Field: "type", Message: "only one BASE program may be active"})
			}
		}
	}

	rules := map[string]bool{}
	for i, in := range file.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		res.Issues = append(res.Issues, issues(path, in.RuleID, program.ValidateRule(cat, in))...)
		if in.RuleID == "" {
			res.Issues = append(res.Issues, Issue{Path: path, Field: "ruleId", Message: "required in a rules file"})
		} else if rules[in.RuleID] {
			res.Issues = append(res.Issues, Issue{Path: path, ID: in.RuleID, Field: "ruleId", Message: "duplicate rule id"})
		}
		rules[in.RuleID] = true
		if in.ProgramID != "" && !programs[in.ProgramID] {
			res.Issues = append(res.Issues, Issue{Path: path, ID: in.RuleID, Field: "programId", Message: fmt.Sprintf("unknown program %q", in.ProgramID)})
		}
	}

	res.Valid = len(res.Issues) == 0
	return res
}

func issues(path, id string, err error) []Issue {
	if err == nil {
		return nil
	}
	details := errutil.DetailsOf(err)
	if len(details) == 0 {
		return []Issue{{Path: path, ID: id, Message: err.Error()}}
	}
	out := make([]Issue, 0, len(details))
	for _, d := range details {
		out = append(out, Issue{Path: path, ID: id, Field: d.Field, Message: d.Message})
	}
	return out
}
