// Package pathtemplate implements the path-template language that maps
// document field values to filesystem locations: parse, render, and the
// inverse operation, extract.
//
// A template is an ordered sequence of segments: literal text, {field},
// {field:FORMAT} (a date format built from Y/M/D/H/S tokens), or
// {parent:child} (nested access into a polymorphic ref). Nothing here knows
// about storage; it is pure string <-> map[string]string transformation.
package pathtemplate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SegmentKind distinguishes the four segment shapes a template can contain.
type SegmentKind uint8

const (
	SegLiteral SegmentKind = iota
	SegField
	SegDateField
	SegNested
)

// Segment is one element of a parsed [Template].
type Segment struct {
	Kind SegmentKind

	Literal string // SegLiteral

	Field string // SegField, SegDateField, SegNested: the field/parent name
	Child string // SegNested: the child name (e.g. "type" in {ref:type})

	DateFormat string        // SegDateField: raw format text, e.g. "YYYY-MM-DD"
	dateParts  []dateToken   // SegDateField: parsed tokens, cached at parse time
	dateLen    int           // SegDateField: total fixed length consumed on extract
}

// Template is a parsed path template, ready for Render/Extract.
type Template struct {
	raw      string
	Segments []Segment
}

// Raw returns the original template text.
func (t *Template) Raw() string { return t.raw }

var fieldRe = regexp.MustCompile(`\{([^{}]*)\}`)

// Parse tokenises a template string into segments.
//
// Disambiguation for {a:b}: if b contains any of the date tokens Y M D H T S,
// it is treated as a date format ({a:FORMAT}); otherwise it is a nested
// field access ({parent:child}). "{}" is an error, as is an unclosed "{".
func Parse(raw string) (*Template, error) {
	if strings.Contains(raw, "{") && strings.Count(raw, "{") != strings.Count(raw, "}") {
		return nil, fmt.Errorf("pathtemplate: unclosed brace in %q", raw)
	}

	tmpl := &Template{raw: raw}

	pos := 0
	for pos < len(raw) {
		open := strings.IndexByte(raw[pos:], '{')
		if open < 0 {
			tmpl.Segments = append(tmpl.Segments, Segment{Kind: SegLiteral, Literal: raw[pos:]})
			break
		}

		open += pos
		if open > pos {
			tmpl.Segments = append(tmpl.Segments, Segment{Kind: SegLiteral, Literal: raw[pos:open]})
		}

		close := strings.IndexByte(raw[open:], '}')
		if close < 0 {
			return nil, fmt.Errorf("pathtemplate: unclosed brace in %q", raw)
		}

		close += open
		body := raw[open+1 : close]

		if body == "" {
			return nil, fmt.Errorf("pathtemplate: empty segment %q", raw)
		}

		seg, err := parseSegment(body)
		if err != nil {
			return nil, fmt.Errorf("pathtemplate: %w", err)
		}

		tmpl.Segments = append(tmpl.Segments, seg)
		pos = close + 1
	}

	return tmpl, nil
}

func parseSegment(body string) (Segment, error) {
	colon := strings.IndexByte(body, ':')
	if colon < 0 {
		return Segment{Kind: SegField, Field: body}, nil
	}

	parent := body[:colon]
	rest := body[colon+1:]

	if parent == "" {
		return Segment{}, fmt.Errorf("empty field name in %q", body)
	}

	if looksLikeDateFormat(rest) {
		parts, n, err := parseDateFormat(rest)
		if err != nil {
			return Segment{}, err
		}

		return Segment{Kind: SegDateField, Field: parent, DateFormat: rest, dateParts: parts, dateLen: n}, nil
	}

	if rest == "" {
		return Segment{}, fmt.Errorf("empty nested child in %q", body)
	}

	return Segment{Kind: SegNested, Field: parent, Child: rest}, nil
}

func looksLikeDateFormat(s string) bool {
	for _, r := range s {
		switch r {
		case 'Y', 'M', 'D', 'H', 'T', 'S':
			return true
		}
	}

	return false
}

type dateUnit uint8

const (
	unitLiteral dateUnit = iota
	unitYear
	unitMonth
	unitDay
	unitHour
	unitMinute
	unitSecond
)

type dateToken struct {
	unit dateUnit
	text string // literal text, or the raw token e.g. "YYYY"
	n    int    // consumed length
}

// parseDateFormat scans a date format string into fixed-length tokens.
// MM is month on its first occurrence and minute on every occurrence after
// that, matching formats that mix a date and a time portion (e.g.
// "YYYY-MM-DDTHH-MM-SS").
func parseDateFormat(format string) ([]dateToken, int, error) {
	var tokens []dateToken

	mmSeen := 0
	total := 0
	i := 0

	for i < len(format) {
		switch {
		case strings.HasPrefix(format[i:], "YYYY"):
			tokens = append(tokens, dateToken{unit: unitYear, text: "YYYY", n: 4})
			i += 4
			total += 4
		case strings.HasPrefix(format[i:], "MM"):
			mmSeen++

			unit := unitMonth
			if mmSeen > 1 {
				unit = unitMinute
			}

			tokens = append(tokens, dateToken{unit: unit, text: "MM", n: 2})
			i += 2
			total += 2
		case strings.HasPrefix(format[i:], "DD"):
			tokens = append(tokens, dateToken{unit: unitDay, text: "DD", n: 2})
			i += 2
			total += 2
		case strings.HasPrefix(format[i:], "HH"):
			tokens = append(tokens, dateToken{unit: unitHour, text: "HH", n: 2})
			i += 2
			total += 2
		case strings.HasPrefix(format[i:], "SS"):
			tokens = append(tokens, dateToken{unit: unitSecond, text: "SS", n: 2})
			i += 2
			total += 2
		default:
			r := format[i]
			tokens = append(tokens, dateToken{unit: unitLiteral, text: string(r), n: 1})
			i++
			total++
		}
	}

	if len(tokens) == 0 {
		return nil, 0, fmt.Errorf("empty date format")
	}

	return tokens, total, nil
}

// ReferencedFields returns the parent name for nested segments and the full
// name for simple/date segments, deduplicated in first-seen order.
func (t *Template) ReferencedFields() []string {
	seen := map[string]bool{}

	var out []string

	for _, seg := range t.Segments {
		var name string

		switch seg.Kind {
		case SegField, SegDateField, SegNested:
			name = seg.Field
		default:
			continue
		}

		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	return out
}

// BaseDirectory returns the longest literal prefix terminating at the last
// slash before the first field-bearing segment begins.
func (t *Template) BaseDirectory() string {
	var b strings.Builder

	for _, seg := range t.Segments {
		if seg.Kind != SegLiteral {
			break
		}

		b.WriteString(seg.Literal)
	}

	s := b.String()

	idx := strings.LastIndexByte(s, '/')
	if idx < 0 {
		return ""
	}

	return s[:idx]
}

// Slugify lowercases a string and replaces runs of non-alphanumeric
// characters with a single hyphen, trimming leading/trailing hyphens.
func Slugify(s string) string {
	var b strings.Builder

	lastHyphen := false

	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteByte(byte(r))
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.TrimRight(b.String(), "-")
}

// stringify converts a field value into its string form for slugification:
// numbers and bools are stringified, nil becomes "".
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}

		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// Render substitutes each segment with its value from fields, slugifying
// plain values and formatting date segments. id, if non-empty, wins over
// fields["id"] for a segment named "id".
func Render(t *Template, fields map[string]any, id string) (string, error) {
	var b strings.Builder

	for _, seg := range t.Segments {
		switch seg.Kind {
		case SegLiteral:
			b.WriteString(seg.Literal)
		case SegField:
			v, err := lookupField(fields, seg.Field, id)
			if err != nil {
				return "", err
			}

			b.WriteString(Slugify(stringify(v)))
		case SegDateField:
			v, err := lookupField(fields, seg.Field, id)
			if err != nil {
				return "", err
			}

			formatted, err := formatDate(v, seg)
			if err != nil {
				return "", fmt.Errorf("field %q: %w", seg.Field, err)
			}

			b.WriteString(formatted)
		case SegNested:
			v, err := lookupNested(fields, seg.Field, seg.Child)
			if err != nil {
				return "", err
			}

			b.WriteString(Slugify(stringify(v)))
		}
	}

	return b.String(), nil
}

func lookupField(fields map[string]any, name, id string) (any, error) {
	if name == "id" && id != "" {
		return id, nil
	}

	v, ok := fields[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("missing required path segment %q", name)
	}

	return v, nil
}

func lookupNested(fields map[string]any, parent, child string) (any, error) {
	raw, ok := fields[parent]
	if !ok || raw == nil {
		return nil, fmt.Errorf("missing required path segment %q", parent)
	}

	switch m := raw.(type) {
	case map[string]any:
		v, ok := m[child]
		if !ok {
			return nil, fmt.Errorf("missing nested field %q.%q", parent, child)
		}

		return v, nil
	default:
		// Direct (non-typed) ref: only "id" is reachable.
		if child == "id" {
			return raw, nil
		}

		return nil, fmt.Errorf("field %q is not a nested mapping", parent)
	}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseTimeValue(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		var lastErr error

		for _, layout := range dateLayouts {
			t, err := time.Parse(layout, x)
			if err == nil {
				return t, nil
			}

			lastErr = err
		}

		return time.Time{}, lastErr
	default:
		return time.Time{}, fmt.Errorf("not a date value: %v", v)
	}
}

func formatDate(v any, seg Segment) (string, error) {
	t, err := parseTimeValue(v)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	for _, tok := range seg.dateParts {
		switch tok.unit {
		case unitLiteral:
			b.WriteString(tok.text)
		case unitYear:
			fmt.Fprintf(&b, "%04d", t.Year())
		case unitMonth:
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case unitDay:
			fmt.Fprintf(&b, "%02d", t.Day())
		case unitHour:
			fmt.Fprintf(&b, "%02d", t.Hour())
		case unitMinute:
			fmt.Fprintf(&b, "%02d", t.Minute())
		case unitSecond:
			fmt.Fprintf(&b, "%02d", t.Second())
		}
	}

	return b.String(), nil
}

// Extract is the inverse of Render under slugification: it maps a rendered
// path back to the string value of every simple-name and date segment.
// Nested segments are consumed but not returned. Returns ok=false if any
// literal portion of the template does not match the path.
func Extract(t *Template, path string) (map[string]string, bool) {
	out := map[string]string{}

	pos := 0
	for i, seg := range t.Segments {
		switch seg.Kind {
		case SegLiteral:
			if !strings.HasPrefix(path[pos:], seg.Literal) {
				return nil, false
			}

			pos += len(seg.Literal)
		case SegDateField:
			if pos+seg.dateLen > len(path) {
				return nil, false
			}

			out[seg.Field] = path[pos : pos+seg.dateLen]
			pos += seg.dateLen
		case SegField, SegNested:
			delim := nextLiteralDelimiter(t.Segments, i)

			var end int
			if delim == "" {
				end = len(path)
			} else {
				idx := strings.Index(path[pos:], delim)
				if idx < 0 {
					return nil, false
				}

				end = pos + idx
			}

			value := path[pos:end]
			if seg.Kind == SegField {
				out[seg.Field] = value
			}

			pos = end
		}
	}

	if pos != len(path) {
		return nil, false
	}

	return out, true
}

// nextLiteralDelimiter returns the literal text immediately following
// segment index i (if the following segment is itself literal), the
// delimiter a non-formatted field segment must stop at.
func nextLiteralDelimiter(segs []Segment, i int) string {
	if i+1 >= len(segs) {
		return ""
	}

	next := segs[i+1]
	if next.Kind == SegLiteral {
		return next.Literal
	}

	return ""
}
