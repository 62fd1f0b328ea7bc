package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lorrc/marketplace-realtime/internal/client/catalog"
)

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with the local listing store",
	}
	cmd.AddCommand(newCatalogApplyCmd(a))
	return cmd
}

type applyReport struct {
	Items     []catalog.Item   `yaml:"items"`
	Confirmed []catalog.Item   `yaml:"confirmed"`
	Pending   []pendingSummary `yaml:"pending,omitempty"`
	Rejected  []pendingSummary `yaml:"rejected,omitempty"`
}

type pendingSummary struct {
	Intent string             `yaml:"intent"`
	Type   catalog.ActionKind `yaml:"type"`
	Reason string             `yaml:"reason,omitempty"`
}

func newCatalogApplyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <script.yaml>",
		Short: "Replay a scripted catalog session and print the resulting state",
		Long: `Seeds the store with the script's items, dispatches each action
optimistically and settles it as the step's outcome says: confirm (default),
fail, or pending. The visible list, the confirmed list and anything left
pending are printed as YAML.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			script, err := catalog.ParseScript(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			report, err := applyScript(script, nil)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(a.out)
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

var errScriptRejected = errors.New("rejected by script")

func applyScript(script *catalog.Script, ids catalog.IDGenerator) (*applyReport, error) {
	store := catalog.NewStore(script.Items, ids)
	report := &applyReport{}

	for i, step := range script.Actions {
		action, err := step.Action()
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		id, err := store.Dispatch(action)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		switch step.Outcome {
		case catalog.OutcomeFail:
			if err := store.Fail(id, errScriptRejected); err != nil {
				return nil, err
			}
			report.Rejected = append(report.Rejected, pendingSummary{
				Intent: id, Type: action.Kind(), Reason: errScriptRejected.Error(),
			})
		case catalog.OutcomePending:
		default:
			if err := store.Confirm(id); err != nil {
				return nil, err
			}
		}
	}

	report.Items = store.Items()
	report.Confirmed = store.Confirmed()
	for _, in := range store.Pending() {
		report.Pending = append(report.Pending, pendingSummary{Intent: in.ID, Type: in.Op.Kind()})
	}
	return report, nil
}
