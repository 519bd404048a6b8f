package conda

import (
	"fmt"
	"strings"
)

// Version is a parsed conda version string with conda's total ordering:
//
//   - an optional integer epoch ("1!2.0") compares first;
//   - the public part is split on ".", "_" and "-" into components, and each
//     component into numeric and alphabetic runs ("1.0rc2" -> [1] [0 rc 2]);
//   - numbers compare numerically, strings case-insensitively, and strings
//     sort before numbers, except "dev" (before everything) and "post"
//     (after everything);
//   - missing trailing components and runs compare as 0, so 1.0 == 1.0.0;
//   - an optional local part ("+cuda") breaks ties with the same rules.
type Version struct {
	raw    string
	epoch  string
	public [][]versionElem
	local  [][]versionElem
}

type versionElem struct {
	num   string // normalised digits, no leading zeros; valid when isNum
	str   string
	isNum bool
}

var zeroElem = versionElem{num: "0", isNum: true}

// ParseVersion parses a conda version string.
func ParseVersion(s string) (Version, error) {
	raw := s
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Version{}, fmt.Errorf("empty version string")
	}
	for _, r := range s {
		if !isVersionRune(r) {
			return Version{}, fmt.Errorf("invalid character %q in version %q", r, raw)
		}
	}

	v := Version{raw: raw, epoch: "0"}

	if strings.Count(s, "!") > 1 {
		return Version{}, fmt.Errorf("duplicated epoch separator in version %q", raw)
	}
	if i := strings.IndexByte(s, '!'); i >= 0 {
		epoch := s[:i]
		if epoch == "" || !isDigits(epoch) {
			return Version{}, fmt.Errorf("epoch must be an integer in version %q", raw)
		}
		v.epoch = trimZeros(epoch)
		s = s[i+1:]
	}

	if strings.Count(s, "+") > 1 {
		return Version{}, fmt.Errorf("duplicated local version separator in version %q", raw)
	}
	localPart := ""
	if i := strings.IndexByte(s, '+'); i >= 0 {
		localPart = s[i+1:]
		s = s[:i]
		if localPart == "" {
			return Version{}, fmt.Errorf("empty local version in %q", raw)
		}
	}
	if s == "" {
		return Version{}, fmt.Errorf("empty public version in %q", raw)
	}

	var err error
	if v.public, err = splitComponents(s); err != nil {
		return Version{}, fmt.Errorf("version %q: %w", raw, err)
	}
	if localPart != "" {
		if v.local, err = splitComponents(localPart); err != nil {
			return Version{}, fmt.Errorf("local version %q: %w", raw, err)
		}
	}
	return v, nil
}

// String returns the version as it was given to ParseVersion.
func (v Version) String() string {
	return v.raw
}

// Compare returns -1, 0 or +1.
func (v Version) Compare(o Version) int {
	if c := compareDigits(v.epoch, o.epoch); c != 0 {
		return c
	}
	if c := compareComponents(v.public, o.public); c != 0 {
		return c
	}
	return compareComponents(v.local, o.local)
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o are the same version under conda ordering.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// CompareVersions compares two version strings. Strings that fail to parse
// fall back to plain string comparison so sorting never panics.
func CompareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

func splitComponents(s string) ([][]versionElem, error) {
	s = strings.NewReplacer("-", ".", "_", ".").Replace(s)
	fields := strings.Split(s, ".")
	comps := make([][]versionElem, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("empty version component")
		}
		comp := splitRuns(f)
		// A component that starts with a letter gets an implicit leading 0,
		// so "1.a" compares like "1.0a".
		if !comp[0].isNum {
			comp = append([]versionElem{zeroElem}, comp...)
		}
		comps = append(comps, comp)
	}
	return comps, nil
}

func splitRuns(f string) []versionElem {
	var elems []versionElem
	start := 0
	for i := 1; i <= len(f); i++ {
		if i < len(f) && isDigit(f[i]) == isDigit(f[start]) {
			continue
		}
		run := f[start:i]
		if isDigit(run[0]) {
			elems = append(elems, versionElem{num: trimZeros(run), isNum: true})
		} else {
			elems = append(elems, versionElem{str: run})
		}
		start = i
	}
	return elems
}

func compareComponents(a, b [][]versionElem) int {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		var ca, cb []versionElem
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		m := max(len(ca), len(cb))
		for j := 0; j < m; j++ {
			ea, eb := zeroElem, zeroElem
			if j < len(ca) {
				ea = ca[j]
			}
			if j < len(cb) {
				eb = cb[j]
			}
			if c := compareElems(ea, eb); c != 0 {
				return c
			}
		}
	}
	return 0
}

func compareElems(a, b versionElem) int {
	switch {
	case a.isNum && b.isNum:
		return compareDigits(a.num, b.num)
	case !a.isNum && !b.isNum:
		return compareStrings(a.str, b.str)
	case a.isNum:
		return -compareElems(b, a)
	}
	// a is a string, b a number
	if a.str == "post" {
		return 1
	}
	return -1
}

func compareStrings(a, b string) int {
	if a == b {
		return 0
	}
	switch {
	case a == "dev":
		return -1
	case b == "dev":
		return 1
	case a == "post":
		return 1
	case b == "post":
		return -1
	}
	return strings.Compare(a, b)
}

// compareDigits compares two normalised digit strings numerically without
// overflowing on very long build-style numbers.
func compareDigits(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func trimZeros(s string) string {
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isVersionRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-', r == '+', r == '!', r == '*':
		return true
	}
	return false
}
