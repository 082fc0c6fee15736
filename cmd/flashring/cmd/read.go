package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/eventlog"
	"github.com/ssargent/flashring/pkg/ring"
)

// newReadCmd represents the read command
func newReadCmd() *cobra.Command {
	readCmd := &cobra.Command{
		Use:   "read <region> [page] [count]",
		Short: "Display pages of a region",
		Long: `Display count pages of a region starting at a 1-based page number, wrapping
at the end of the region. Pages are decoded as records unless --raw asks for
a hex dump. Numbers may be given in decimal or as 0x hex.

Examples:
  flashring read samples
  flashring read samples 100 4
  flashring read events 0x10 2 --raw`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetBool("raw")

			f, err := flashFrom(cmd)
			if err != nil {
				return err
			}
			region, err := f.region(args[0])
			if err != nil {
				return err
			}
			page, count, err := pageArgs(args[1:], 1)
			if err != nil {
				return err
			}

			if raw {
				pages, err := region.Dump(page-1, count)
				if err != nil {
					return err
				}
				for _, p := range pages {
					printRawPage(cmd, p)
				}
				return nil
			}

			views, err := region.Pages(page-1, count)
			if err != nil {
				return err
			}
			for _, v := range views {
				cmd.Println(formatPage(v))
			}
			return nil
		},
	}

	readCmd.Flags().Bool("raw", false, "Hex dump the pages instead of decoding them")
	return readCmd
}

// pageArgs parses the optional [page] [count] arguments.
func pageArgs(args []string, defaultCount int) (page, count int, err error) {
	page, count = 1, defaultCount
	if len(args) > 0 {
		if page, err = parseNumber(args[0], "page"); err != nil {
			return 0, 0, err
		}
	}
	if len(args) > 1 {
		if count, err = parseNumber(args[1], "count"); err != nil {
			return 0, 0, err
		}
	}
	return page, count, nil
}

// parseNumber accepts decimal or 0x prefixed hex.
func parseNumber(s, what string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, errors.Newf("invalid %s %q", what, s)
	}
	return int(v), nil
}

func printRawPage(cmd *cobra.Command, p ring.RawPage) {
	switch {
	case p.Err != nil:
		cmd.Printf(" Page %d (0x%x): unable to read page: %v\n", p.Index+1, p.Address, p.Err)
	case p.Erased:
		cmd.Printf(" Page %d (0x%x): erased\n", p.Index+1, p.Address)
	default:
		cmd.Printf(" Page %d (0x%x):\n", p.Index+1, p.Address)
		cmd.Print(hex.Dump(p.Data))
	}
}

// formatPage renders one decoded page on a line, samples followed by their
// axes.
func formatPage(v ring.PageView) string {
	switch {
	case v.Err != nil:
		return fmt.Sprintf("%d, unable to read page: %v", v.PageNumber, v.Err)
	case !v.Active:
		return fmt.Sprintf("%d, inactive", v.PageNumber)
	}

	switch rec := v.Record.(type) {
	case codec.LogEntry:
		return eventlog.FormatLine(v.PageNumber, rec)
	case codec.SampleBatch:
		var b strings.Builder
		fmt.Fprintf(&b, "%d, sequence %d, %s, previous %s, %d samples",
			v.PageNumber, rec.Sequence, eventlog.FormatTime(rec.CaptureTimestamp),
			eventlog.FormatTime(rec.PreviousCaptureTimestamp), rec.Count())
		for _, axis := range []struct {
			name   string
			values []int8
		}{{"X", rec.X}, {"Y", rec.Y}, {"Z", rec.Z}} {
			fmt.Fprintf(&b, "\n   %s:", axis.name)
			for _, value := range axis.values {
				fmt.Fprintf(&b, " %d", value)
			}
		}
		return b.String()
	default:
		return fmt.Sprintf("%d, %v", v.PageNumber, rec)
	}
}
