package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/sqlnorm"
)

// HeaderPrefix is the comment prefix that introduces header lines.
const HeaderPrefix = "--"

// HeaderParseError reports a malformed model file header.
type HeaderParseError struct {
	File string
	Line int
	Msg  string
}

func (e *HeaderParseError) Error() string {
	return fmt.Sprintf("loader: %s:%d: %s", e.File, e.Line, e.Msg)
}

// header is the parsed key/value block at the top of a model file.
type header struct {
	values map[string]string
	tests  []contracts.TestDefinition
	// bodyStart is the byte offset where the SQL body begins.
	bodyStart int
}

// parseHeader extracts the leading comment header: consecutive lines of
// the form "-- key: value", terminated by the first blank or non-header
// line. Keys are case-sensitive. Repeated "test:" keys accumulate.
func parseHeader(file, content string) (*header, error) {
	h := &header{values: make(map[string]string)}

	offset := 0
	lineNo := 0
	for offset < len(content) {
		lineNo++
		end := strings.IndexByte(content[offset:], '\n')
		var line string
		next := len(content)
		if end >= 0 {
			line = content[offset : offset+end]
			next = offset + end + 1
		} else {
			line = content[offset:]
		}

		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, HeaderPrefix) {
			break
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, HeaderPrefix))
		if rest == "" {
			break
		}
		key, value, found := strings.Cut(rest, ":")
		if !found {
			break
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key == "test" {
			test, err := parseTest(file, lineNo, value)
			if err != nil {
				return nil, err
			}
			h.tests = append(h.tests, test)
		} else {
			h.values[key] = value
		}
		offset = next
	}

	h.bodyStart = offset
	return h, nil
}

// parseContractColumns parses the "name:TYPE[:NOT_NULL]" comma list.
func parseContractColumns(file, raw string) ([]contracts.ContractColumn, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var cols []contracts.ContractColumn
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		name := strings.TrimSpace(parts[0])
		if name == "" {
			return nil, &HeaderParseError{File: file, Msg: fmt.Sprintf("contract column with empty name in %q", entry)}
		}
		if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
			return nil, &HeaderParseError{File: file, Msg: fmt.Sprintf("contract column %q is missing a data type", name)}
		}
		if len(parts) > 3 {
			return nil, &HeaderParseError{File: file, Msg: fmt.Sprintf("contract column %q has too many modifiers", name)}
		}
		col := contracts.ContractColumn{
			Name:     name,
			DataType: sqlnorm.NormalizeDataType(parts[1]),
			Nullable: true,
		}
		if len(parts) == 3 {
			modifier := strings.TrimSpace(parts[2])
			if modifier != "NOT_NULL" {
				return nil, &HeaderParseError{File: file, Msg: fmt.Sprintf("contract column %q has unknown modifier %q", name, modifier)}
			}
			col.Nullable = false
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// parseTest parses one test declaration of the form
// "TYPE(arg, ...)[:SEVERITY]", e.g. "NOT_NULL(id):BLOCK" or
// "ACCEPTED_VALUES(status, placed, shipped):WARN".
func parseTest(file string, line int, raw string) (contracts.TestDefinition, error) {
	def := contracts.TestDefinition{Severity: contracts.SeverityBlock}

	body := raw
	if i := strings.LastIndex(raw, ")"); i >= 0 && i+1 < len(raw) {
		suffix := strings.TrimSpace(raw[i+1:])
		if strings.HasPrefix(suffix, ":") {
			sev := strings.TrimSpace(strings.TrimPrefix(suffix, ":"))
			switch sev {
			case string(contracts.SeverityBlock):
				def.Severity = contracts.SeverityBlock
			case string(contracts.SeverityWarn):
				def.Severity = contracts.SeverityWarn
			default:
				return def, &HeaderParseError{File: file, Line: line, Msg: fmt.Sprintf("unknown test severity %q", sev)}
			}
			body = raw[:i+1]
		}
	}

	open := strings.IndexByte(body, '(')
	closing := strings.LastIndexByte(body, ')')
	if open < 0 || closing < open {
		return def, &HeaderParseError{File: file, Line: line, Msg: fmt.Sprintf("malformed test declaration %q", raw)}
	}

	def.Type = contracts.TestType(strings.TrimSpace(body[:open]))
	args := splitArgs(body[open+1 : closing])

	switch def.Type {
	case contracts.TestNotNull, contracts.TestUnique:
		if len(args) != 1 {
			return def, &HeaderParseError{File: file, Line: line, Msg: fmt.Sprintf("%s expects exactly one column", def.Type)}
		}
		def.Column = args[0]
	case contracts.TestAcceptedValues:
		if len(args) < 2 {
			return def, &HeaderParseError{File: file, Line: line, Msg: "ACCEPTED_VALUES expects a column and at least one value"}
		}
		def.Column = args[0]
		def.Values = args[1:]
	case contracts.TestRowCountMin:
		if len(args) != 1 {
			return def, &HeaderParseError{File: file, Line: line, Msg: "ROW_COUNT_MIN expects a threshold"}
		}
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || n < 0 {
			return def, &HeaderParseError{File: file, Line: line, Msg: fmt.Sprintf("invalid ROW_COUNT_MIN threshold %q", args[0])}
		}
		def.MinCount = n
	default:
		return def, &HeaderParseError{File: file, Line: line, Msg: fmt.Sprintf("unknown test type %q", def.Type)}
	}
	return def, nil
}

func splitArgs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		a = strings.Trim(a, "'")
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// splitList splits a comma-separated header value, trimming entries.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
