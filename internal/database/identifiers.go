package database

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SystemSchemas are never part of the dump set.
var SystemSchemas = []string{"information_schema", "performance_schema", "mysql", "sys"}

const maxIdentifierLength = 64

// binlogNamePattern matches server binary log names such as mysql-bin.000042.
var binlogNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[0-9]{6,}$`)

// Rejected is a host-returned name that failed validation.
type Rejected struct {
	Name   string
	Reason string
}

// IsSystemSchema reports whether name is a built-in schema.
func IsSystemSchema(name string) bool {
	for _, s := range SystemSchemas {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}

// ValidateDatabaseName checks a name returned by SHOW DATABASES before it is
// used as a command argument or a filename source. Punctuation such as "."
// or "/" is legal in a quoted identifier and is stripped from the dump
// filename instead.
func ValidateDatabaseName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty name")
	case !utf8.ValidString(name):
		return fmt.Errorf("invalid utf-8")
	case utf8.RuneCountInString(name) > maxIdentifierLength:
		return fmt.Errorf("longer than %d characters", maxIdentifierLength)
	case strings.HasPrefix(name, "-"):
		return fmt.Errorf("leading dash")
	case strings.TrimSpace(name) != name:
		return fmt.Errorf("leading or trailing whitespace")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("contains a control character")
		}
	}
	return nil
}

// DecodeDatabases turns the raw SHOW DATABASES output into the dump set:
// system schemas and excluded names are dropped, malformed names are
// rejected, and the result is sorted.
func DecodeDatabases(raw []string, exclude []string) (valid []string, rejected []Rejected) {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}
	seen := make(map[string]struct{}, len(raw))
	for _, name := range raw {
		if IsSystemSchema(name) {
			continue
		}
		if _, ok := skip[name]; ok {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		if err := ValidateDatabaseName(name); err != nil {
			rejected = append(rejected, Rejected{Name: name, Reason: err.Error()})
			continue
		}
		seen[name] = struct{}{}
		valid = append(valid, name)
	}
	sort.Strings(valid)
	return valid, rejected
}

// StripPunctuation removes every punctuation and symbol character.
func StripPunctuation(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, name)
}

// DumpFileNames maps each database to its dump filename: the name with
// punctuation removed plus ".sql". Names that collapse to the same stem get
// a numeric suffix so no dump overwrites another.
func DumpFileNames(databases []string) map[string]string {
	sorted := append([]string(nil), databases...)
	sort.Strings(sorted)

	used := make(map[string]struct{}, len(sorted))
	out := make(map[string]string, len(sorted))
	for _, db := range sorted {
		stem := StripPunctuation(db)
		if stem == "" {
			stem = "db"
		}
		candidate := stem
		for n := 2; ; n++ {
			if _, taken := used[candidate]; !taken {
				break
			}
			candidate = stem + strconv.Itoa(n)
		}
		used[candidate] = struct{}{}
		out[db] = candidate + ".sql"
	}
	return out
}

// ValidateBinlogName checks a name returned by SHOW BINARY LOGS.
func ValidateBinlogName(name string) error {
	if !binlogNamePattern.MatchString(name) {
		return fmt.Errorf("binlog name %q does not match %s", name, binlogNamePattern)
	}
	return nil
}

// BinlogBase returns the basename part of a binlog name, "mysql-bin" for
// "mysql-bin.000042".
func BinlogBase(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

// IsBinlogFile reports whether filename is a binlog belonging to one of bases.
func IsBinlogFile(filename string, bases map[string]struct{}) bool {
	if !binlogNamePattern.MatchString(filename) {
		return false
	}
	_, ok := bases[BinlogBase(filename)]
	return ok
}
