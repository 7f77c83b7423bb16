package risk

import (
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"
)

var leadingVersion = regexp.MustCompile(`^\s*v?(\d+(?:\.\d+)*)`)

var minOpenSSH = version.Must(version.NewVersion("7.0"))

// parseLeading parses the numeric prefix of a banner version such as
// "7.4p1" or "2.2.15 (CentOS)". It returns nil when there is none.
func parseLeading(raw string) *version.Version {
	m := leadingVersion.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	v, err := version.NewVersion(m[1])
	if err != nil {
		return nil
	}
	return v
}

func outdatedOpenSSH(product, raw string) bool {
	if !strings.Contains(strings.ToLower(product), "openssh") {
		return false
	}
	v := parseLeading(raw)
	return v != nil && v.LessThan(minOpenSSH)
}

// outdatedApache matches the end-of-life 2.0 and 2.2 branches.
func outdatedApache(product, raw string) bool {
	if !strings.Contains(strings.ToLower(product), "apache") {
		return false
	}
	v := parseLeading(raw)
	if v == nil {
		return false
	}
	seg := v.Segments()
	return seg[0] == 2 && (seg[1] == 0 || seg[1] == 2)
}
