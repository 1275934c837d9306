// Package viewsql implements the view engine's SQL subset: extracting the
// collections a view SQL statement references, and rewriting it into a
// CTE-wrapped form that queries the system index.
//
// The statement is scanned by hand rather than with a general SQL parser
// library (the spec explicitly allows this, §4.6/§9): a regular expression
// finds the FROM/JOIN/WHERE/GROUP BY/ORDER BY/LIMIT keywords outside string
// literals, and only the table references and the LIMIT value are
// extracted. The statement itself is executed by SQLite ([Execute]).
//
// Because a CTE can be named exactly like the collection it derives from,
// rewriting does not need to touch the caller's FROM/JOIN text at all: the
// original SELECT body executes unchanged once those names resolve to
// synthesised CTEs instead of real tables.
package viewsql

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/groundb/groundb/internal/schema"
)

// TableRef is one FROM/JOIN table reference: the collection name and its
// alias (equal to the collection name when no alias is given).
type TableRef struct {
	Collection string
	Alias      string
}

// Parsed is the structural information extracted from a view's SQL text,
// sufficient to synthesise CTEs and apply the buffer/limit policy without
// otherwise touching the SQL.
type Parsed struct {
	RawSQL    string
	TableRefs []TableRef
	Limit     *int // top-level LIMIT value, nil if absent
	// LimitSpan is the [start,end) byte range of the top-level "LIMIT n"
	// text in RawSQL (including the keyword), used to strip/replace it for
	// the buffer policy. Zero value means no top-level LIMIT was found.
	LimitSpan [2]int
}

var (
	keywordRe = regexp.MustCompile(`(?i)\b(FROM|JOIN|WHERE|GROUP\s+BY|ORDER\s+BY|LIMIT)\b`)
	aliasRe = regexp.MustCompile(`(?i)^([A-Za-z_][A-Za-z0-9_]*)\s*(?:AS\s+)?([A-Za-z_][A-Za-z0-9_]*)?`)
)

// Parse extracts table references and the top-level LIMIT from a SELECT
// statement. It does not validate the statement is otherwise legal SQL:
// that is left to the underlying engine at execution time.
func Parse(sql string) (*Parsed, error) {
	masked := maskStringLiterals(sql)

	kws := findTopLevelKeywords(masked)

	p := &Parsed{RawSQL: sql}

	for i, kw := range kws {
		end := len(sql)
		if i+1 < len(kws) {
			end = kws[i+1].start
		}

		clauseBody := sql[kw.end:end]

		switch strings.ToUpper(collapseWS(kw.text)) {
		case "FROM":
			refs, err := parseTableList(clauseBody, masked[kw.end:end])
			if err != nil {
				return nil, fmt.Errorf("viewsql: FROM: %w", err)
			}

			p.TableRefs = append(p.TableRefs, refs...)
		case "JOIN":
			ref, err := parseSingleTable(clauseBody)
			if err != nil {
				return nil, fmt.Errorf("viewsql: JOIN: %w", err)
			}

			p.TableRefs = append(p.TableRefs, ref)
		case "LIMIT":
			before := masked[:kw.start]
			if strings.Count(before, "(") != strings.Count(before, ")") {
				continue // LIMIT inside a parenthesised subquery
			}

			n, convErr := strconv.Atoi(firstToken(clauseBody))
			if convErr == nil {
				p.Limit = &n
				p.LimitSpan = [2]int{kw.start, end}
			}
		}
	}

	if len(p.TableRefs) == 0 {
		return nil, fmt.Errorf("viewsql: no FROM clause found")
	}

	return p, nil
}

func firstToken(s string) string {
	s = strings.TrimSpace(s)
	idx := strings.IndexAny(s, " \t\n\r,")

	if idx < 0 {
		return s
	}

	return s[:idx]
}

type kwMatch struct {
	text       string
	start, end int
}

func findTopLevelKeywords(masked string) []kwMatch {
	locs := keywordRe.FindAllStringIndex(masked, -1)

	out := make([]kwMatch, 0, len(locs))
	for _, loc := range locs {
		out = append(out, kwMatch{text: masked[loc[0]:loc[1]], start: loc[0], end: loc[1]})
	}

	return out
}

func collapseWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseTableList parses the comma-separated table list following FROM (only
// the first entry in this SQL subset; additional tables should use JOIN,
// but a comma-joined list is tolerated).
func parseTableList(body, maskedBody string) ([]TableRef, error) {
	var refs []TableRef

	depth := 0

	start := 0

	split := func(end int) error {
		part := strings.TrimSpace(body[start:end])
		if part == "" {
			return nil
		}

		ref, err := parseSingleTable(part)
		if err != nil {
			return err
		}

		refs = append(refs, ref)

		return nil
	}

	for i, r := range maskedBody {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				if err := split(i); err != nil {
					return nil, err
				}

				start = i + 1
			}
		}
	}

	if err := split(len(body)); err != nil {
		return nil, err
	}

	return refs, nil
}

func parseSingleTable(text string) (TableRef, error) {
	text = strings.TrimSpace(text)
	m := aliasRe.FindStringSubmatch(text)

	if m == nil || m[1] == "" {
		return TableRef{}, fmt.Errorf("could not parse table reference %q", text)
	}

	alias := m[2]
	if alias == "" {
		alias = m[1]
	}

	return TableRef{Collection: m[1], Alias: alias}, nil
}

// maskStringLiterals replaces the contents of '...' string literals with
// spaces (preserving length and quote characters) so keyword scanning
// doesn't trip over keywords that appear inside a quoted string.
func maskStringLiterals(sql string) string {
	out := []byte(sql)

	inString := false

	for i := 0; i < len(out); i++ {
		if out[i] == '\'' {
			inString = !inString

			continue
		}

		if inString && out[i] != '\n' {
			out[i] = ' '
		}
	}

	return string(out)
}

// Rewrite produces the CTE-wrapped SQL for executing a view against the
// index's documents table. One CTE per distinct referenced collection is
// emitted, exposing id/created_at/modified_at, content (if the collection
// allows a body), and json_extract(data_json, '$.field') for every declared
// field. The original SELECT body follows, unmodified except for the
// buffer/limit substitution in [ApplyBuffer].
func Rewrite(p *Parsed, sch *schema.Schema) (string, error) {
	seen := map[string]bool{}

	var ctes []string

	for _, ref := range p.TableRefs {
		if seen[ref.Collection] {
			continue
		}

		seen[ref.Collection] = true

		col, ok := sch.Collections[ref.Collection]
		if !ok {
			return "", fmt.Errorf("viewsql: view references undeclared collection %q", ref.Collection)
		}

		ctes = append(ctes, cteFor(col))
	}

	return "WITH " + strings.Join(ctes, ",\n") + "\n" + p.RawSQL, nil
}

func cteFor(col schema.CollectionDef) string {
	cols := []string{"id", "created_at", "modified_at"}

	if col.Content {
		cols = append(cols, "content_text AS content")
	}

	names := make([]string, 0, len(col.Fields))
	for name := range col.Fields {
		names = append(names, name)
	}

	sortStrings(names)

	for _, f := range names {
		cols = append(cols, fmt.Sprintf("json_extract(data_json, '$.%s') AS %s", f, f))
	}

	return fmt.Sprintf(
		"%s AS (\n  SELECT %s\n  FROM documents\n  WHERE collection = '%s'\n)",
		col.Name, strings.Join(cols, ", "), col.Name,
	)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// ApplyBuffer rewrites the final top-level LIMIT L in rewrittenSQL (the
// output of [Rewrite]) to ceil(L*buffer), for the in-memory/index-cached
// result. If there is no top-level LIMIT, rewrittenSQL is returned
// unchanged: an unlimited view has no buffer distinction.
func ApplyBuffer(rewrittenSQL string, parsed *Parsed, buffer float64) string {
	if parsed.Limit == nil || buffer == 1.0 {
		return rewrittenSQL
	}

	offset := len(rewrittenSQL) - len(parsed.RawSQL)
	start := parsed.LimitSpan[0] + offset
	end := parsed.LimitSpan[1] + offset

	bufferedN := int(math.Ceil(float64(*parsed.Limit) * buffer))

	return rewrittenSQL[:start] + fmt.Sprintf("LIMIT %d", bufferedN) + rewrittenSQL[end:]
}
