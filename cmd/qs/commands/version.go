package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qstransfer/qs/internal/semver"
)

// Version builds the `qs version` command. Its --check flag is
// additive CLI sugar (SPEC_FULL.md §4) over internal/semver: it fetches
// the relay's advertised protocol version and reports the comparison,
// without adding a new core module.
func Version(version string) *cobra.Command {
	var checkAddr string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display the installed version of qs",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			if checkAddr == "" {
				return nil
			}
			ver, err := semver.Local(version)
			if err != nil {
				return fmt.Errorf("qs: parsing own version %q: %w", version, err)
			}
			relayVer, err := semver.GetRendezvousVersion(context.Background(), checkAddr)
			if err != nil {
				return fmt.Errorf("qs: fetching relay version from %s: %w", checkAddr, err)
			}
			cmp := ver.Compare(relayVer)
			fmt.Printf("relay %s: %s (%s)\n", checkAddr, relayVer, describeComparison(cmp))
			if !ver.CompatibleProtocol(relayVer) {
				fmt.Printf("warning: relay speaks protocol %d, this build speaks %d; transfers through it will fail the handshake\n", relayVer.Protocol, ver.Protocol)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&checkAddr, "check", "", "Fetch and compare the protocol version advertised by a rendezvous relay")
	return cmd
}

func describeComparison(c semver.Comparison) string {
	switch c {
	case semver.CompareEqual:
		return "compatible, same version"
	case semver.CompareOldMajor, semver.CompareOldMinor, semver.CompareOldPatch:
		return "relay is newer"
	case semver.CompareNewMajor, semver.CompareNewMinor, semver.CompareNewPatch:
		return "relay is older"
	default:
		return "unknown"
	}
}
