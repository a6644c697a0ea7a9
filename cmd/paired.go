package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func pairedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paired",
		Short: "Manage remembered peripherals (list, forget)",
	}
	cmd.AddCommand(pairedListCmd())
	cmd.AddCommand(pairedForgetCmd())
	return cmd
}

func pairedListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List remembered peripherals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			list := newPairingService(cfg).List()
			if len(list) == 0 {
				fmt.Println("No remembered peripherals.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "EXTENSION\tNAME\tPERIPHERAL\tPAIRED\n")
			for _, p := range list {
				paired := time.UnixMilli(p.PairedAt).Format("2006-01-02 15:04")
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ExtensionID, p.Name, p.PeripheralID, paired)
			}
			return tw.Flush()
		},
	}
}

func pairedForgetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "forget <name>",
		Short: "Forget a remembered peripheral and its stored PIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			name := args[0]
			if !yes {
				ok, err := promptConfirm(fmt.Sprintf("Forget %s?", name), false)
				if err != nil || !ok {
					return err
				}
			}
			if err := newPairingService(cfg).Forget(cfg.Extension.ID, name); err != nil {
				return err
			}
			fmt.Printf("Forgot %s.\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}
