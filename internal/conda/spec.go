package conda

import (
	"fmt"
	"strings"
)

var packageExtensions = []string{".conda", ".tar.bz2"}

// ParseSpecifier parses a single explicit-snapshot line. Two forms are
// accepted:
//
//	name=version=build[=channel]
//	<channel>/<subdir>/<name>-<version>-<build>.conda[#md5]
//
// The second is what `conda list --explicit` prints.
func ParseSpecifier(line string) (Specifier, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Specifier{}, fmt.Errorf("empty package specifier")
	}

	if strings.Contains(line, "://") && !strings.Contains(line, "=") {
		return parseURLSpecifier(line)
	}

	parts := strings.SplitN(line, "=", 4)
	spec := Specifier{Name: strings.TrimSpace(parts[0])}
	if spec.Name == "" {
		return Specifier{}, fmt.Errorf("invalid package specifier %q: missing name", line)
	}
	if strings.ContainsAny(spec.Name, " \t") {
		return Specifier{}, fmt.Errorf("invalid package specifier %q: name contains whitespace", line)
	}
	if len(parts) > 1 {
		spec.Version = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		spec.Build = strings.TrimSpace(parts[2])
	}
	if len(parts) > 3 {
		spec.Channel = strings.TrimSuffix(strings.TrimSpace(parts[3]), "/")
	}
	return spec, nil
}

func parseURLSpecifier(line string) (Specifier, error) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}

	// <channel>/<subdir>/<fn>
	slash := strings.LastIndexByte(line, '/')
	if slash < 0 {
		return Specifier{}, fmt.Errorf("invalid package URL %q", line)
	}
	fn := line[slash+1:]
	channel := line[:slash]
	if i := strings.LastIndexByte(channel, '/'); i >= 0 && !strings.HasSuffix(channel[:i], ":/") {
		channel = channel[:i]
	}

	stem := ""
	for _, ext := range packageExtensions {
		if strings.HasSuffix(fn, ext) {
			stem = strings.TrimSuffix(fn, ext)
			break
		}
	}
	if stem == "" {
		return Specifier{}, fmt.Errorf("invalid package URL %q: unknown package extension", line)
	}

	name, version, build, err := SplitDist(stem)
	if err != nil {
		return Specifier{}, fmt.Errorf("invalid package URL %q: %w", line, err)
	}

	return Specifier{
		Name:    name,
		Version: version,
		Build:   build,
		Channel: channel,
	}, nil
}

// SplitDist splits a "name-version-build" string. Package names may contain
// dashes, versions and builds may not.
func SplitDist(dist string) (name, version, build string, err error) {
	last := strings.LastIndexByte(dist, '-')
	if last <= 0 {
		return "", "", "", fmt.Errorf("malformed dist %q", dist)
	}
	mid := strings.LastIndexByte(dist[:last], '-')
	if mid <= 0 {
		return "", "", "", fmt.Errorf("malformed dist %q", dist)
	}
	name, version, build = dist[:mid], dist[mid+1:last], dist[last+1:]
	if name == "" || version == "" || build == "" {
		return "", "", "", fmt.Errorf("malformed dist %q", dist)
	}
	return name, version, build, nil
}
