package cli

import (
	"context"
	"time"

	"smallbiznis-loyalty/pkg/client"
	"smallbiznis-loyalty/pkg/errutil"

	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"github.com/spf13/cobra"
)

type BalanceOptions struct {
	Addr         string
	TenantID     string
	MembershipID string
	Timeout      time.Duration
}

type RemoteBalance struct {
	TenantID      string     `json:"tenantId"`
	MembershipID  string     `json:"membershipId"`
	Balance       int64      `json:"balance"`
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`
}

func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BalanceOptions{}

	cmd := &cobra.Command{
		Use:           "balance --tenant <id> --member <id>",
		Short:         "Read a membership's available points from a running ledger",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBalance(cmd.Context(), newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:9090", "ledger gRPC address")
	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&opts.MembershipID, "member", "", "membership id")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("member")

	return cmd
}

func runBalance(ctx context.Context, f *OutputFormatter, opts *BalanceOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := client.NewGRPCConn(opts.Addr, client.WithTenant(opts.TenantID))
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot dial ledger", err)
	}
	defer conn.Close()

	bal, err := fetchBalance(ctx, client.NewLedgerClient(conn), opts)
	if err != nil {
		return WrapExitError(ExitFailure, "balance lookup failed", err)
	}

	if f.Format == "json" {
		return f.JSON(Response{Status: "ok", Data: bal})
	}
	f.Printf("%s/%s available=%d\n", bal.TenantID, bal.MembershipID, bal.Balance)
	return nil
}

func fetchBalance(ctx context.Context, lc ledgerv1.LedgerServiceClient, opts *BalanceOptions) (*RemoteBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	resp, err := lc.GetBalance(ctx, &ledgerv1.GetBalanceRequest{TenantId: opts.TenantID, MemberId: opts.MembershipID})
	if err != nil {
		return nil, errutil.FromGRPCError(err)
	}
	out := &RemoteBalance{TenantID: opts.TenantID, MembershipID: opts.MembershipID, Balance: resp.GetBalance()}
	if ts := resp.GetLastUpdatedAt(); ts != nil {
		t := ts.AsTime()
		out.LastUpdatedAt = &t
	}
	return out, nil
}
