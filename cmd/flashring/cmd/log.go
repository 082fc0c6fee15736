package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssargent/flashring/pkg/eventlog"
)

const defaultListCount = 20

// newLogCmd represents the log command
func newLogCmd() *cobra.Command {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the diagnostic event log",
		Long: `Inspect the diagnostic event log kept in the event region. Entry numbers
are 1-based page numbers of the region.`,
	}

	logCmd.AddCommand(newLogInfoCmd(), newLogListCmd(), newLogReadCmd(), newLogSearchCmd())
	return logCmd
}

func newLogInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Count the stored events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flashFrom(cmd)
			if err != nil {
				return err
			}

			a := f.events.Analyze()
			cmd.Printf(" Log entries stored     : %d\n", a.Stored)
			cmd.Printf(" Active entries         : %d\n", a.Active)
			cmd.Printf("   Info                 : %d\n", a.Info)
			cmd.Printf("   Error                : %d\n", a.Error)
			cmd.Printf("   Unknown              : %d\n", a.Unknown)
			cmd.Printf(" Unreadable pages       : %d\n", a.Unreadable)
			if a.Active > 0 {
				cmd.Printf(" Oldest entry           : %d  (%s)\n", a.Oldest+1, eventlog.FormatTime(a.OldestStamp))
				cmd.Printf(" Newest entry           : %d  (%s)\n", a.Newest+1, eventlog.FormatTime(a.NewestStamp))
			}
			if a.FirstInactive >= 0 {
				cmd.Printf(" First inactive page    : %d\n", a.FirstInactive+1)
				cmd.Printf(" Last inactive page     : %d\n", a.LastInactive+1)
			}
			cmd.Printf(" Held for next flush    : %d (%d lost)\n", f.events.Held(), f.events.Lost())
			return nil
		},
	}
}

func newLogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [entry] [count]",
		Short: "List events one per line",
		Long: `List count events from an entry number, one per line. Without arguments the
list starts at the oldest stored event.

Examples:
  flashring log list
  flashring log list 1 100`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flashFrom(cmd)
			if err != nil {
				return err
			}
			first, count, err := logArgs(f, args)
			if err != nil {
				return err
			}

			entries, err := f.events.List(first, count)
			if err != nil {
				return err
			}
			cmd.Printf(" Start entry: %d - %d entries\n", first, count)
			for _, e := range entries {
				switch {
				case e.Error != "":
					cmd.Printf(" %d, unable to read page: %s\n", e.PageNumber, e.Error)
				case e.Event == nil:
					cmd.Printf(" %d, inactive\n", e.PageNumber)
				default:
					cmd.Printf(" %s\n", eventlog.FormatLine(e.PageNumber, *e.Event))
				}
			}
			return nil
		},
	}
}

func newLogReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read [entry] [count]",
		Short: "Display events in full with their flash address",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flashFrom(cmd)
			if err != nil {
				return err
			}
			first, count, err := logArgs(f, args)
			if err != nil {
				return err
			}

			entries, err := f.events.List(first, count)
			if err != nil {
				return err
			}
			index := f.events.Ring().Index()
			for _, e := range entries {
				addr := index.ToAddress(e.PageNumber - 1)
				cmd.Printf("\n Entry %d address: %d  0x%x\n", e.PageNumber, addr, addr)
				switch {
				case e.Error != "":
					cmd.Printf(" Unable to read page: %s\n", e.Error)
				case e.Event == nil:
					cmd.Printf(" Inactive\n")
				default:
					cmd.Printf(" Time : %s\n", eventlog.FormatTime(e.Event.Timestamp))
					cmd.Printf(" Type : %s\n", e.Event.Kind)
					cmd.Printf(" Text : %s\n", e.Event.Text)
				}
			}
			return nil
		},
	}
}

func newLogSearchCmd() *cobra.Command {
	searchCmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search the event log",
		Long: `List the events whose text contains the given text. A query containing
#errors lists the error events instead.

Examples:
  flashring log search timeout
  flashring log search '#errors'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			f, err := flashFrom(cmd)
			if err != nil {
				return err
			}

			results := f.events.Collect(args[0], limit)
			for _, m := range results.Matches {
				cmd.Printf(" %s\n", eventlog.FormatLine(m.PageNumber, m.Record))
			}
			cmd.Println()
			cmd.Printf(" Number of active log entries searched : %d\n", results.Stats.Searched-results.Stats.Skipped)
			cmd.Printf(" Number of inactive log entries skipped: %d\n", results.Stats.Skipped)
			cmd.Printf(" Number of matching entries found      : %d\n", results.Stats.Found)
			return nil
		},
	}

	searchCmd.Flags().Int("limit", 0, "Show at most this many matches (0 for all)")
	return searchCmd
}

// logArgs parses [entry] [count]. An entry alone shows that one entry; without
// arguments the listing starts at the oldest stored event.
func logArgs(f *flash, args []string) (first, count int, err error) {
	if len(args) > 0 {
		return pageArgs(args, 1)
	}
	a := f.events.Analyze()
	if a.Active == 0 {
		return 1, defaultListCount, nil
	}
	return a.Oldest + 1, min(a.Stored, defaultListCount), nil
}
