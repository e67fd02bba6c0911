package ayaka

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lmaotrigine/Ayaka/ayaka/migrations"
)

// MigrationScript is one versioned unit of schema change: an ordered list
// of SQL statements plus the informational header parsed from the script
// file. Versions form a total order; gaps are fine, duplicates are not.
type MigrationScript struct {
	// Version parsed from the file name (V<n>__<description>.sql)
	Version int

	// Description from the Reason header, falling back to the file name
	Description string

	// Revises is the version this script builds on, from the header.
	// Informational only - the runner orders strictly by Version.
	Revises int

	// CreatedAt is the authoring timestamp from the Creation Date header,
	// zero if absent or unparseable. Informational only.
	CreatedAt time.Time

	// Name is the source file name
	Name string

	// Statements to execute, in order
	Statements []string
}

// ScriptSource provides the full set of known migration scripts.
type ScriptSource interface {
	Scripts() ([]MigrationScript, error)
}

// FSSource reads V<n>__<description>.sql scripts from the root of a
// filesystem. Non-SQL entries are ignored; an .sql file that doesn't match
// the naming convention is an error, so a typo'd version prefix can't
// silently drop a migration.
type FSSource struct {
	fsys fs.FS
}

// NewFSSource returns an FSSource over the given filesystem.
func NewFSSource(fsys fs.FS) FSSource {
	return FSSource{fsys: fsys}
}

// EmbeddedSource returns the scripts compiled into the binary.
func EmbeddedSource() FSSource {
	return NewFSSource(migrations.FS)
}

// DirSource returns an FSSource over a directory on disk.
func DirSource(dir string) (FSSource, error) {
	stat, err := os.Stat(dir)
	if err != nil {
		return FSSource{}, fmt.Errorf("stat migrations directory: %w", err)
	}
	if !stat.IsDir() {
		return FSSource{}, fmt.Errorf("migrations path %q is not a directory", dir)
	}
	return NewFSSource(os.DirFS(dir)), nil
}

// Scripts implements ScriptSource. Results are sorted ascending by version.
func (s FSSource) Scripts() ([]MigrationScript, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	scripts := make([]MigrationScript, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		contents, readErr := fs.ReadFile(s.fsys, entry.Name())
		if readErr != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), readErr)
		}
		script, parseErr := ParseScript(entry.Name(), contents)
		if parseErr != nil {
			return nil, parseErr
		}
		scripts = append(scripts, script)
	}

	sort.Slice(
		scripts, func(i, j int) bool {
			return scripts[i].Version < scripts[j].Version
		},
	)
	return scripts, nil
}

var scriptNamePattern = regexp.MustCompile(`^V(\d+)__([A-Za-z0-9_-]+)\.sql$`)

// parseScriptName extracts the version and description from a file name
// like V3__add_starboard.sql.
func parseScriptName(name string) (int, string, error) {
	match := scriptNamePattern.FindStringSubmatch(name)
	if match == nil {
		return 0, "", fmt.Errorf(
			"invalid migration file name %q (want V<version>__<description>.sql)",
			name,
		)
	}
	version, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, "", fmt.Errorf("invalid migration version in %q: %w", name, err)
	}
	if version < 1 {
		return 0, "", fmt.Errorf("migration version must be >= 1 in %q", name)
	}
	description := strings.ReplaceAll(match[2], "_", " ")
	return version, description, nil
}

// Timestamp formats accepted in the Creation Date header. The first is
// what the original migration scripts carry.
var headerTimeFormats = []string{
	"2006-01-02 15:04:05.999999999 UTC",
	"2006-01-02 15:04:05 UTC",
	time.RFC3339,
}

// ParseScript parses one script file: the version from the name, the
// leading comment header (Revises / Creation Date / Reason - informational,
// not machine-enforced), and the statement list.
func ParseScript(name string, contents []byte) (MigrationScript, error) {
	version, description, err := parseScriptName(name)
	if err != nil {
		return MigrationScript{}, err
	}

	script := MigrationScript{
		Version:     version,
		Description: description,
		Name:        name,
	}

	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			// header block ends at the first non-comment line
			break
		}
		key, value, found := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "--")), ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "revises":
			if v, convErr := strconv.Atoi(strings.TrimPrefix(value, "V")); convErr == nil {
				script.Revises = v
			}
		case "creation date":
			for _, format := range headerTimeFormats {
				if ts, parseErr := time.Parse(format, value); parseErr == nil {
					script.CreatedAt = ts
					break
				}
			}
		case "reason":
			if value != "" {
				script.Description = value
			}
		}
	}

	script.Statements = splitStatements(string(contents))
	if len(script.Statements) == 0 {
		return MigrationScript{}, fmt.Errorf(
			"migration %s contains no statements",
			name,
		)
	}
	return script, nil
}

// splitStatements breaks a script into individual statements on
// semicolons, ignoring semicolons inside quoted strings, line and block
// comments, and dollar-quoted bodies. Empty and comment-only fragments are
// dropped.
func splitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
		dollarTag  string
	)

	const (
		stateSQL = iota
		stateSingleQuote
		stateDoubleQuote
		stateLineComment
		stateBlockComment
		stateDollarQuote
	)
	state := stateSQL

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch state {
		case stateSQL:
			switch {
			case c == ';':
				flushStatement(&statements, &current)
				continue
			case c == '\'':
				state = stateSingleQuote
			case c == '"':
				state = stateDoubleQuote
			case c == '-' && next == '-':
				state = stateLineComment
			case c == '/' && next == '*':
				state = stateBlockComment
			case c == '$':
				if tag, ok := dollarQuoteTag(runes[i:]); ok {
					dollarTag = tag
					state = stateDollarQuote
					current.WriteString(tag)
					i += len([]rune(tag)) - 1
					continue
				}
			}
		case stateSingleQuote:
			if c == '\'' {
				state = stateSQL
			}
		case stateDoubleQuote:
			if c == '"' {
				state = stateSQL
			}
		case stateLineComment:
			if c == '\n' {
				state = stateSQL
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateSQL
				current.WriteRune(c)
				current.WriteRune(next)
				i++
				continue
			}
		case stateDollarQuote:
			if c == '$' && strings.HasPrefix(string(runes[i:]), dollarTag) {
				state = stateSQL
				current.WriteString(dollarTag)
				i += len([]rune(dollarTag)) - 1
				continue
			}
		}

		current.WriteRune(c)
	}
	flushStatement(&statements, &current)

	return statements
}

// flushStatement appends the accumulated text as a statement, unless it's
// blank or consists solely of comments.
func flushStatement(statements *[]string, current *strings.Builder) {
	stmt := strings.TrimSpace(current.String())
	current.Reset()
	if stmt == "" {
		return
	}
	if commentOnly(stmt) {
		return
	}
	*statements = append(*statements, stmt+";")
}

func commentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		return false
	}
	return true
}

// dollarQuoteTag reports whether the rune slice starts a PostgreSQL
// dollar-quoted string, returning the full opening tag (e.g. "$fn$" or
// "$$") when it does.
func dollarQuoteTag(runes []rune) (string, bool) {
	if len(runes) == 0 || runes[0] != '$' {
		return "", false
	}
	for i := 1; i < len(runes); i++ {
		c := runes[i]
		if c == '$' {
			return string(runes[:i+1]), true
		}
		if !isTagRune(c) {
			return "", false
		}
	}
	return "", false
}

func isTagRune(c rune) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
