package main

import (
	"fmt"
	"os"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/spf13/cobra"

	"github.com/yyyyyyyan/onesecmail/config"
	"github.com/yyyyyyyan/onesecmail/mailbox"
	"github.com/yyyyyyyan/onesecmail/message"
	"github.com/yyyyyyyan/onesecmail/progress"
	"github.com/yyyyyyyan/onesecmail/rfc822"
	"github.com/yyyyyyyan/onesecmail/stats"
	"github.com/yyyyyyyan/onesecmail/validator"
)

var (
	exportAddress         string
	exportOffset          string
	exportFromPatterns    []string
	exportSubjectPatterns []string
	exportSince           string
	exportUntil           string
	exportLogLevel        string
)

var exportCmd = &cobra.Command{
	Use:   "export [mbox file]",
	Short: "Export matching messages from a mailbox into a local mbox archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mboxPath := args[0]

		validators, err := exportValidators()
		if err != nil {
			return err
		}

		mb, err := mailbox.FromAddress(ctx, exportAddress, mailbox.WithDateOffset(exportOffset))
		if err != nil {
			return fmt.Errorf("mailbox: %w", err)
		}

		payloads, err := mb.MessagePayloads(ctx)
		if err != nil {
			return fmt.Errorf("list mailbox %s: %w", mb.Address(), err)
		}

		file, err := os.Create(mboxPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", mboxPath, err)
		}
		defer file.Close()

		writer := mboxlib.NewWriter(file)
		bar := progress.New(len(payloads), "Exporting messages", exportLogLevel)
		defer bar.Stop()

		exported := 0
		for i := range payloads {
			msg, err := message.FromPayload(payloads[i],
				message.WithMailHandler(mb),
				message.WithDateOffset(exportOffset),
			)
			if err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}

			bar.Update(stats.Event{Type: stats.EventTypeScanned, MessageID: msg.ID(), Detail: msg.Subject})

			if !validator.Apply(validators, msg) {
				continue
			}
			if err := msg.FetchContent(ctx, nil); err != nil {
				return err
			}

			messageWriter, err := writer.CreateMessage(msg.FromAddress(), msg.Date())
			if err != nil {
				return fmt.Errorf("mbox entry for message %d: %w", msg.ID(), err)
			}
			if _, err := messageWriter.Write(rfc822.Render(msg)); err != nil {
				return fmt.Errorf("write message %d: %w", msg.ID(), err)
			}
			exported++
		}

		if err := writer.Close(); err != nil {
			return fmt.Errorf("close mbox: %w", err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("close %s: %w", mboxPath, err)
		}

		bar.Stop()
		fmt.Printf("Exported %d of %d messages to %s\n", exported, len(payloads), mboxPath)
		return nil
	},
}

func exportValidators() ([]validator.Validator, error) {
	since, err := config.ParseDate(exportSince)
	if err != nil {
		return nil, fmt.Errorf("--since: %w", err)
	}
	until, err := config.ParseDate(exportUntil)
	if err != nil {
		return nil, fmt.Errorf("--until: %w", err)
	}

	cfg := config.Config{
		FromPatterns:    exportFromPatterns,
		SubjectPatterns: exportSubjectPatterns,
		Since:           since,
		Until:           until,
	}
	return cfg.Validators()
}

func init() {
	exportCmd.Flags().StringVarP(&exportAddress, "address", "a", "", "Mailbox address (user@domain) to export from")
	exportCmd.Flags().StringVar(&exportOffset, "date-offset", "+0200", "UTC offset applied when parsing message dates")
	exportCmd.Flags().StringArrayVar(&exportFromPatterns, "from-pattern", nil, "Regex matched against the start of the sender address")
	exportCmd.Flags().StringArrayVar(&exportSubjectPatterns, "subject-pattern", nil, "Regex matched against the start of the subject")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "Only export messages dated strictly after this instant")
	exportCmd.Flags().StringVar(&exportUntil, "until", "", "Only export messages dated strictly before this instant")
	exportCmd.Flags().StringVar(&exportLogLevel, "log-level", "info", "Logging level: debug, info, warn, error")
	_ = exportCmd.MarkFlagRequired("address")
	rootCmd.AddCommand(exportCmd)
}
