package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssargent/flashring/pkg/ring"
)

// newInfoCmd represents the info command
func newInfoCmd() *cobra.Command {
	infoCmd := &cobra.Command{
		Use:   "info [region]",
		Short: "Show the layout and cursors of the flash regions",
		Long: `Show the geometry, cursors and backpressure level of every region, or of
one region when named. With --scan every page is read and the active,
inactive and unreadable pages are counted.

Examples:
  flashring info
  flashring info samples --scan`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scan, _ := cmd.Flags().GetBool("scan")

			f, err := flashFrom(cmd)
			if err != nil {
				return err
			}

			regions := f.regions()
			if len(args) == 1 {
				region, err := f.region(args[0])
				if err != nil {
					return err
				}
				regions = []ring.Diagnostics{region}
			}

			for _, region := range regions {
				printInfo(cmd, region.Describe())
				if scan {
					printSummary(cmd, region.Summarize())
				}
				cmd.Println()
			}
			return nil
		},
	}

	infoCmd.Flags().Bool("scan", false, "Read every page of the region")
	return infoCmd
}

func printInfo(cmd *cobra.Command, info ring.Info) {
	r := info.Region
	last := r.BaseAddress + uint32(r.PageSize*(r.PageCount-1))

	cmd.Printf("Region %s:\n", r.Name)
	cmd.Printf(" Start address    : 0x%x  (%d)\n", r.BaseAddress, r.BaseAddress)
	cmd.Printf(" Number of pages  : %d  (%d sectors)\n", r.PageCount, info.Sectors)
	cmd.Printf(" Page size (bytes): %d\n", r.PageSize)
	cmd.Printf(" Last page address: 0x%x  (%d)\n", last, last)
	cmd.Printf(" Capacity         : %d pages (guard %d, warning %d)\n",
		info.Capacity, r.OverlapGuardPages, r.WarningThresholdPages)
	cmd.Printf(" Read / write     : %d / %d\n", info.State.Read, info.State.Write)
	cmd.Printf(" Unread           : %d\n", info.Unread)
	cmd.Printf(" Backpressure     : %s\n", info.State.Level)
}

func printSummary(cmd *cobra.Command, s ring.Summary) {
	cmd.Printf(" Active pages     : %d\n", s.Active)
	cmd.Printf(" Inactive pages   : %d\n", s.Inactive)
	cmd.Printf(" Unreadable pages : %d\n", s.Unreadable)
	if s.Active > 0 {
		cmd.Printf(" Oldest page      : %d  (stamp %d)\n", s.Oldest+1, s.OldestStamp)
		cmd.Printf(" Newest page      : %d  (stamp %d)\n", s.Newest+1, s.NewestStamp)
	}
	if s.FirstInactive >= 0 {
		cmd.Printf(" Inactive range   : %d .. %d\n", s.FirstInactive+1, s.LastInactive+1)
	}
}
