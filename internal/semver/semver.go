// Package semver parses release version strings and answers the
// version-probe question the original qs-core ALPN string bundled into
// one round trip: is a relay's release new enough, and does it speak
// the same wire protocol (SPEC_FULL.md §4 "Protocol/ALPN style version
// probe before connecting")? A relay can be release-compatible and
// protocol-incompatible at the same time -- a point release that
// bumped handshake.ProtocolVersion without a major release bump -- so
// the two are tracked and compared separately rather than folded into
// one number.
package semver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/qstransfer/qs/internal/handshake"
)

const pattern = `^v(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)$`

var ErrParse = errors.New("could not parse provided string into semantic version")

type Comparison int

const (
	CompareEqual Comparison = iota
	CompareOldMajor
	CompareNewMajor
	CompareOldMinor
	CompareNewMinor
	CompareOldPatch
	CompareNewPatch
)

// Version is a release version plus the wire protocol version the
// build speaks (spec.md §4.3's Hello.protocol_version). A relay
// reports both from its `/version` endpoint so a client can decide
// whether to bother dialing before ever opening a handshake.
type Version struct {
	Major    int    `json:"major,omitempty"`
	Minor    int    `json:"minor,omitempty"`
	Patch    int    `json:"patch,omitempty"`
	Protocol uint32 `json:"protocol"`
}

// Parse parses s into a release version, leaving Protocol at zero;
// callers that need protocol compatibility too should use Local.
func Parse(s string) (Version, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Version{}, fmt.Errorf("compiling regex: %w", err)
	}
	if !re.MatchString(s) {
		return Version{}, ErrParse
	}
	split := strings.Split(s[1:], ".")
	ver := Version{}
	ver.Major, err = strconv.Atoi(split[0])
	if err != nil {
		return Version{}, fmt.Errorf("parsing Major to int: %w", err)
	}
	ver.Minor, err = strconv.Atoi(split[1])
	if err != nil {
		return Version{}, fmt.Errorf("parsing Minor to int: %w", err)
	}
	ver.Patch, err = strconv.Atoi(split[2])
	if err != nil {
		return Version{}, fmt.Errorf("parsing Patch to int: %w", err)
	}

	return ver, nil
}

// Local parses release into this build's Version and stamps it with
// the wire protocol version this build actually implements
// (handshake.ProtocolVersion), so it can be advertised or compared
// against a peer's without a separate lookup.
func Local(release string) (Version, error) {
	ver, err := Parse(release)
	if err != nil {
		return Version{}, err
	}
	ver.Protocol = handshake.ProtocolVersion
	return ver, nil
}

// String returns a string representation of the release version.
func (sv Version) String() string {
	return fmt.Sprintf("v%d.%d.%d", sv.Major, sv.Minor, sv.Patch)
}

// Compare compares the release version against the provided oracle
// statement.
func (sv Version) Compare(oracle Version) Comparison {
	switch {
	case sv.Major < oracle.Major:
		return CompareOldMajor
	case sv.Major > oracle.Major:
		return CompareNewMajor
	case sv.Minor < oracle.Minor:
		return CompareOldMinor
	case sv.Minor > oracle.Minor:
		return CompareNewMinor
	case sv.Patch < oracle.Patch:
		return CompareOldPatch
	case sv.Patch > oracle.Patch:
		return CompareNewPatch
	default:
		return CompareEqual
	}
}

// CompatibleProtocol reports whether sv and oracle speak the same wire
// protocol, independent of how their release versions compare.
func (sv Version) CompatibleProtocol(oracle Version) bool {
	return sv.Protocol == oracle.Protocol
}

// GetRendezvousVersion probes addr's `/version` endpoint, the
// ALPN-style version probe of SPEC_FULL.md §4: a client fetches the
// relay's advertised Version, including its Protocol, before ever
// opening a Hello handshake through it.
func GetRendezvousVersion(ctx context.Context, addr string) (Version, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/version", addr), nil)
	if err != nil {
		return Version{}, fmt.Errorf("building version request: %w", err)
	}
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		return Version{}, fmt.Errorf("fetching the latest version from relay: %w", err)
	}
	defer r.Body.Close()
	var version Version
	if err := json.NewDecoder(r.Body).Decode(&version); err != nil {
		return Version{}, fmt.Errorf("decoding version response from relay: %w", err)
	}
	return version, nil
}
