package scanner

import "sort"

// Profile is a named set of nmap flags.
type Profile struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Flags       []string `json:"flags"`
}

var profiles = map[string]Profile{
	"fast": {
		Name:        "fast",
		Description: "Fast scan of the top 100 TCP ports",
		Flags:       []string{"-T4", "--top-ports", "100"},
	},
	"full": {
		Name:        "full",
		Description: "All TCP ports with service detection",
		Flags:       []string{"-p-", "-sV", "-T3"},
	},
	"comprehensive": {
		Name:        "comprehensive",
		Description: "SYN scan of all ports with service and OS detection",
		Flags:       []string{"-sS", "-sV", "-O", "-p-", "-T4"},
	},
	"stealth": {
		Name:        "stealth",
		Description: "Low-noise SYN scan without host discovery",
		Flags:       []string{"-sS", "-Pn", "-T2"},
	},
}

// ProfileNames returns the known profile names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profiles returns every profile sorted by name.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, name := range ProfileNames() {
		out = append(out, mustProfile(name))
	}
	return out
}

// LookupProfile returns the named profile or a *ConfigurationError.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, &ConfigurationError{Profile: name, Available: ProfileNames()}
	}
	p.Flags = append([]string(nil), p.Flags...)
	return p, nil
}

func mustProfile(name string) Profile {
	p, err := LookupProfile(name)
	if err != nil {
		panic(err)
	}
	return p
}
