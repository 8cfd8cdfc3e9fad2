package storage

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// RunIDLayout is the UTC timestamp token embedded in archive names.
const RunIDLayout = "20060102T150405Z"

// ChecksumSuffix marks checksum sidecars next to archives.
const ChecksumSuffix = ".sha256"

var (
	trailingTimestamp = regexp.MustCompile(`(\d{8})[T_-]?(\d{6})Z?$`)
	anyTimestamp      = regexp.MustCompile(`(\d{8})[T_-]?(\d{6})`)
)

// ArchiveName builds "<prefix>-<runID><ext>".
func ArchiveName(prefix, runID, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s-%s%s", prefix, runID, ext)
}

// RunID formats t as the archive timestamp token (always UTC).
func RunID(t time.Time) string {
	return t.UTC().Format(RunIDLayout)
}

// ParseArchiveTimestamp extracts the UTC timestamp embedded in an archive
// name. Besides RunIDLayout it accepts the YYYYmmdd-HHMMSS and
// YYYYmmdd_HHMMSS forms written by older scripts.
func ParseArchiveTimestamp(name string) (time.Time, bool) {
	base := name
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	base = archiveStem(base)

	// The token right before the extension wins over digits in the prefix.
	if m := trailingTimestamp.FindStringSubmatch(base); m != nil {
		if ts, err := time.ParseInLocation("20060102150405", m[1]+m[2], time.UTC); err == nil {
			return ts, true
		}
	}
	for _, m := range anyTimestamp.FindAllStringSubmatch(base, -1) {
		if ts, err := time.ParseInLocation("20060102150405", m[1]+m[2], time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func archiveStem(base string) string {
	if i := strings.Index(base, ".tar"); i > 0 {
		return base[:i]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

// IsChecksumName reports whether name is a checksum sidecar.
func IsChecksumName(name string) bool {
	return strings.HasSuffix(name, ChecksumSuffix)
}

// SortArchiveNames orders names oldest first by their embedded timestamp.
// Names without a parsable timestamp sort before all others (treated as
// oldest) and lexicographically among themselves; equal timestamps break ties
// lexicographically.
func SortArchiveNames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return archiveLess(names[i], names[j])
	})
}

func sortObjects(objs []RemoteObject) {
	sort.SliceStable(objs, func(i, j int) bool {
		return archiveLess(objs[i].Name, objs[j].Name)
	})
}

func archiveLess(a, b string) bool {
	ta, okA := ParseArchiveTimestamp(a)
	tb, okB := ParseArchiveTimestamp(b)
	switch {
	case okA != okB:
		return !okA
	case okA && !ta.Equal(tb):
		return ta.Before(tb)
	default:
		return a < b
	}
}
