package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-core/internal/allocation"
	"github.com/JakeFAU/outreach-core/internal/ledger"
	"github.com/JakeFAU/outreach-core/internal/server"
)

// allocationPlan is the JSON document printed by the allocate command.
type allocationPlan struct {
	Strategy  allocation.Strategy  `json:"strategy"`
	Total     int                  `json:"total"`
	Allocated int                  `json:"allocated"`
	Remaining int                  `json:"remaining"`
	Ready     bool                 `json:"ready"`
	Problem   string               `json:"problem,omitempty"`
	Accounts  []allocation.Account `json:"accounts"`
	Entries   []allocation.Entry   `json:"allocations"`
	Groups    []ledger.Group       `json:"groups"`
}

// newAllocateCmd creates the 'allocate' subcommand, which spreads a recipient
// file across the configured sending accounts and prints the resulting plan.
func newAllocateCmd() *cobra.Command {
	var (
		recipientsPath string
		userID         string
		strategyName   string
	)
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Plans how a recipient list is split across sending accounts",
		Long: `Reads one recipient per line from --recipients,
distributes them over the user's configured accounts with the chosen quick
strategy, and prints the plan as JSON. Use "-" to read from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			strategy, err := allocation.ParseStrategy(strategyName)
			if err != nil {
				return err
			}
			recipients, err := readRecipients(cmd.InOrStdin(), recipientsPath)
			if err != nil {
				return err
			}
			if len(recipients) == 0 {
				return errors.New("recipient list is empty")
			}
			accounts, err := server.ConfiguredAccounts(rt.cfg.Accounts).Accounts(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("load accounts: %w", err)
			}
			if len(accounts) == 0 {
				rt.logger.Warn("no sending accounts available", zap.String("user_id", userID))
			}

			plan, err := planAllocation(recipients, accounts, strategy)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(plan); err != nil {
				return fmt.Errorf("write plan: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&recipientsPath, "recipients", "", "recipient list file, or - for stdin")
	cmd.Flags().StringVar(&userID, "user", "", "user whose accounts receive the recipients")
	cmd.Flags().StringVar(&strategyName, "strategy", string(allocation.StrategyCapacity), "quick strategy: equal, capacity or fill")
	_ = cmd.MarkFlagRequired("recipients")
	return cmd
}

func readRecipients(stdin io.Reader, path string) ([]string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read recipients: %w", err)
	}
	return ledger.ParseList(string(data)), nil
}

func planAllocation(recipients []string, accounts []allocation.Account, strategy allocation.Strategy) (allocationPlan, error) {
	engine := allocation.NewEngine(len(recipients), accounts, nil)
	if err := engine.Quick(strategy); err != nil {
		return allocationPlan{}, fmt.Errorf("allocate: %w", err)
	}
	entries := engine.Entries()
	plan := allocationPlan{
		Strategy:  strategy,
		Total:     engine.Total(),
		Allocated: engine.Allocated(),
		Remaining: engine.Remaining(),
		Ready:     true,
		Accounts:  engine.Accounts(),
		Entries:   entries,
		Groups:    ledger.Build(recipients, entries, nil).Groups(),
	}
	if err := engine.Finalize(); err != nil {
		var mismatch *allocation.TotalMismatchError
		if !errors.As(err, &mismatch) {
			return allocationPlan{}, fmt.Errorf("finalize: %w", err)
		}
		plan.Ready = false
		plan.Problem = mismatch.Error()
	}
	return plan, nil
}
