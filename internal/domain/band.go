package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ModuleAll is the pseudo-module used when a caller wants statistics
// collated across every module observing a given frequency. It is a
// query-time concept only; no measurement is ever stored under it.
const ModuleAll = "all"

// Band identifies an observing band as a (module, frequency) pair.
// The storage layer keys measurements by Band.Name(); the pair form
// exists so engines can collate across modules at a fixed frequency.
type Band struct {
	Module    string // instrument module, e.g. "ztf", or ModuleAll
	Frequency int    // band frequency identifier
}

// Name returns the canonical band identifier, "<module>_<frequency>".
func (b Band) Name() string {
	return fmt.Sprintf("%s_%d", b.Module, b.Frequency)
}

// IsAll reports whether the band requests cross-module collation.
func (b Band) IsAll() bool {
	return b.Module == ModuleAll
}

// ParseBand parses a band identifier. Accepted forms:
//
//	"<module>_<frequency>"  explicit pair, split on the last underscore
//	"f<frequency>"          frequency shorthand, module defaults to ModuleAll
//	"<frequency>"           bare digits, module defaults to ModuleAll
func ParseBand(name string) (Band, error) {
	if name == "" {
		return Band{}, fmt.Errorf("parse band: empty name")
	}
	if i := strings.LastIndex(name, "_"); i >= 0 {
		if i == 0 || i == len(name)-1 {
			return Band{}, fmt.Errorf("parse band %q: malformed module_frequency pair", name)
		}
		freq, err := strconv.Atoi(name[i+1:])
		if err != nil {
			return Band{}, fmt.Errorf("parse band %q: frequency is not an integer", name)
		}
		return Band{Module: name[:i], Frequency: freq}, nil
	}
	freq, err := strconv.Atoi(strings.TrimPrefix(name, "f"))
	if err != nil {
		return Band{}, fmt.Errorf("parse band %q: expected module_frequency, f<digits> or digits", name)
	}
	return Band{Module: ModuleAll, Frequency: freq}, nil
}
