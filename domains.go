package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yyyyyyyan/onesecmail/mailbox"
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "List the domains currently available for mailbox addresses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		domains, err := mailbox.FetchAvailableDomains(cmd.Context())
		if err != nil {
			return err
		}
		for _, domain := range domains {
			fmt.Println(domain)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(domainsCmd)
}
