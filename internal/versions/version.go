package versions

import (
	"sort"
	"strconv"
	"strings"
)

const namePrefix = "boost-"

// Version is one Boost release as recorded by the website. It is read-only
// input for the importers.
type Version struct {
	Name        string `yaml:"name"`
	Commit      string `yaml:"commit"`
	ReleaseDate string `yaml:"release_date"`
}

// Release returns the release identifier used in upstream URLs and storage
// keys: the name without its "boost-" prefix.
func (v Version) Release() string {
	return strings.TrimPrefix(strings.TrimSpace(v.Name), namePrefix)
}

func (v Version) String() string {
	return v.Name
}

// Number parses the leading dotted numeric components of a version name,
// e.g. "boost-1.61.0.beta1" gives [1 61 0]. ok is false when the name does
// not start with a number.
func Number(name string) (parts []int, ok bool) {
	s := strings.TrimPrefix(strings.TrimSpace(name), namePrefix)
	for _, field := range strings.Split(s, ".") {
		n, err := strconv.Atoi(field)
		if err != nil {
			break
		}
		parts = append(parts, n)
	}
	return parts, len(parts) > 0
}

// Compare orders two version names numerically. Missing trailing components
// count as zero. Names without a numeric part sort after numeric ones.
func Compare(a, b string) int {
	pa, okA := Number(a)
	pb, okB := Number(b)
	switch {
	case !okA && !okB:
		return strings.Compare(a, b)
	case !okA:
		return 1
	case !okB:
		return -1
	}

	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Select picks the versions to process. When release is set, versions whose
// name contains it (case-insensitively) are chosen; otherwise every numeric
// version at or below threshold. The result is sorted oldest first.
func Select(all []Version, release, threshold string) []Version {
	selected := []Version{}
	release = strings.ToLower(strings.TrimSpace(release))

	for _, v := range all {
		if release != "" {
			if strings.Contains(strings.ToLower(v.Name), release) {
				selected = append(selected, v)
			}
			continue
		}
		if _, ok := Number(v.Name); !ok {
			continue
		}
		if Compare(v.Name, threshold) <= 0 {
			selected = append(selected, v)
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return Compare(selected[i].Name, selected[j].Name) < 0
	})
	return selected
}
