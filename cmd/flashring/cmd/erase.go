package cmd

import (
	"github.com/spf13/cobra"
)

// newEraseCmd represents the erase command
func newEraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase <region> <sector address> [sectors]",
		Short: "Erase sectors of a region",
		Long: `Erase one or more sectors of a region starting at an absolute, sector aligned
device address. Every sector is attempted and reported on its own. The ring
cursors are left alone: erased pages read as inactive and are skipped.

Examples:
  flashring erase samples 0x1000
  flashring erase events 0x200000 4`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flashFrom(cmd)
			if err != nil {
				return err
			}
			region, err := f.region(args[0])
			if err != nil {
				return err
			}
			addr, err := parseNumber(args[1], "address")
			if err != nil {
				return err
			}
			sectors := 1
			if len(args) == 3 {
				if sectors, err = parseNumber(args[2], "sectors"); err != nil {
					return err
				}
			}

			cmd.Printf(" Start address: %d  0x%x - %d sectors\n", addr, addr, sectors)
			results, err := region.Erase(uint32(addr), sectors)
			if err != nil {
				return err
			}
			failed := 0
			for i, result := range results {
				if result.Err != nil {
					failed++
					cmd.Printf(" Unable to erase sector %d: 0x%x: %v\n", i, result.Address, result.Err)
					continue
				}
				cmd.Printf(" Sector %d erased: 0x%x\n", i, result.Address)
			}
			if failed > 0 {
				f.logger.Error("manual erase incomplete", "region", region.Name(), "failed", failed)
			} else {
				f.events.Info("%s: erased %d sectors at 0x%x", region.Name(), sectors, addr)
			}
			return nil
		},
	}
}
