package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"smallbiznis-loyalty/pkg/clock"
	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/db"
	"smallbiznis-loyalty/services/event"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/loyalty"
	"smallbiznis-loyalty/services/outbox"
	"smallbiznis-loyalty/services/program"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type SimulateOptions struct {
	Rules    string
	Events   string
	Now      string
	TieBreak string
}

type EventReport struct {
	SourceEventID string               `json:"sourceEventId"`
	EventType     event.Trigger        `json:"eventType"`
	MembershipID  string               `json:"membershipId"`
	TotalPoints   int64                `json:"totalPoints"`
	Created       int                  `json:"transactionsCreated"`
	Evaluations   []loyalty.Evaluation `json:"evaluations"`
	Warnings      []string             `json:"warnings,omitempty"`
	Error         string               `json:"error,omitempty"`
}

type BalanceReport struct {
	MembershipID string `json:"membershipId"`
	Available    int64  `json:"available"`
	Raw          int64  `json:"raw"`
	Held         int64  `json:"held"`
}

type SimulationResult struct {
	Now      time.Time       `json:"now"`
	Events   []EventReport   `json:"events"`
	Balances []BalanceReport `json:"balances"`
}

func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate --rules <rules.yaml> --events <events.yaml>",
		Short: "Run events through the engine against an in-memory ledger",
		Long: `Simulate loads the rules file, treats every program and rule in it as
the active version, and processes the events in file order. Awards are
written to a throwaway sqlite ledger, so replays and period caps behave as
they would in production.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Rules, "rules", "", "rules file (YAML)")
	cmd.Flags().StringVar(&opts.Events, "events", "", "events file (YAML list)")
	cmd.Flags().StringVar(&opts.Now, "now", "", "ledger clock, RFC3339 (default: latest occurredAt)")
	cmd.Flags().StringVar(&opts.TieBreak, "tie-break", "lowest-rule-id", "tie-break between equal-priority rules")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

func runSimulate(ctx context.Context, f *OutputFormatter, opts *SimulateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	file, err := LoadRules(opts.Rules)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot load rules", err)
	}
	if v := Validate(file); !v.Valid {
		printValidation(f, v)
		return NewExitError(ExitFailure, fmt.Sprintf("rules file has %d issue(s)", len(v.Issues)))
	}
	events, err := LoadEvents(opts.Events, file.TenantID)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot load events", err)
	}

	now, err := simulationNow(opts.Now, events)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --now", err)
	}

	res, err := Simulate(ctx, file, events, now, opts.TieBreak)
	if err != nil {
		return WrapExitError(ExitCommandError, "simulation failed", err)
	}
	f.VerboseLog("simulated %d event(s) at %s", len(events), now.Format(time.RFC3339))

	if f.Format == "json" {
		return f.JSON(Response{Status: "ok", Data: res})
	}
	printSimulation(f, res)
	return nil
}

func simulationNow(flag string, events []event.Event) (time.Time, error) {
	if flag != "" {
		return time.Parse(time.RFC3339, flag)
	}
	var latest time.Time
	for _, ev := range events {
		if ev.OccurredAt.After(latest) {
			latest = ev.OccurredAt
		}
	}
	if latest.IsZero() {
		latest = time.Now()
	}
	return latest.UTC(), nil
}

// Simulate processes events in order. An event the engine rejects is
// reported and does not stop the run.
func Simulate(ctx context.Context, file *RulesFile, events []event.Event, now time.Time, tieBreak string) (*SimulationResult, error) {
	cat := file.catalog()
	source := program.StaticSource{}
	for _, in := range file.Programs {
		p, err := program.NewProgram(cat, in)
		if err != nil {
			return nil, err
		}
		p.ID = in.ProgramID
		p.Status = program.StatusActive
		source.Programs = append(source.Programs, p)
	}
	for _, in := range file.Rules {
		r, err := program.NewRule(cat, in)
		if err != nil {
			return nil, err
		}
		r.ID = in.RuleID
		r.Status = program.StatusActive
		source.Rules = append(source.Rules, r)
	}

	conn, err := openLedgerDB()
	if err != nil {
		return nil, err
	}
	if sqlDB, err := conn.DB(); err == nil {
		defer sqlDB.Close()
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	cfg := &config.Config{}
	cfg.Loyalty.TieBreak = tieBreak

	led := ledger.NewService(ledger.ServiceParams{DB: conn, Node: node, Clock: clock.Fixed(now), Config: cfg})
	engine := loyalty.NewEngine(loyalty.EngineParams{
		Source:  source,
		Ledger:  led,
		Catalog: cat,
		Config:  cfg,
	})

	out := &SimulationResult{Now: now, Events: []EventReport{}, Balances: []BalanceReport{}}
	members := map[string]string{}
	for _, ev := range events {
		rep := EventReport{SourceEventID: ev.SourceEventID, EventType: ev.EventType, MembershipID: ev.MembershipID}
		res, err := engine.ProcessEvent(ctx, ev)
		if err != nil {
			rep.Error = err.Error()
		} else {
			rep.TotalPoints = res.TotalPointsAwarded
			rep.Created = len(res.TransactionsCreated)
			rep.Evaluations = res.Evaluations
			rep.Warnings = res.Warnings
			members[ev.MembershipID] = ev.TenantID
		}
		out.Events = append(out.Events, rep)
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		bal, err := led.Balance(ctx, members[id], id)
		if err != nil {
			return nil, err
		}
		out.Balances = append(out.Balances, BalanceReport{MembershipID: id, Available: bal.Available, Raw: bal.Raw, Held: bal.Held})
	}
	return out, nil
}

func openLedgerDB() (*gorm.DB, error) {
	return db.OpenMemory(fmt.Sprintf("loyaltyctl-%d", time.Now().UnixNano()),
		&ledger.PointsTransaction{}, &outbox.Message{})
}

func printSimulation(f *OutputFormatter, res *SimulationResult) {
	for _, ev := range res.Events {
		f.Printf("event %s %s membership=%s\n", ev.SourceEventID, ev.EventType, ev.MembershipID)
		if ev.Error != "" {
			f.Printf("  error: %s\n", ev.Error)
			continue
		}
		for _, e := range ev.Evaluations {
			f.Printf("  %s program=%s points=%d reason=%q\n", e.RuleID, e.ProgramID, e.Points, e.ReasonCode)
		}
		for _, w := range ev.Warnings {
			f.Printf("  warning: %s\n", w)
		}
		f.Printf("  total=%d created=%d\n", ev.TotalPoints, ev.Created)
	}
	f.Printf("balances\n")
	for _, b := range res.Balances {
		f.Printf("  %s available=%d raw=%d held=%d\n", b.MembershipID, b.Available, b.Raw, b.Held)
	}
}
