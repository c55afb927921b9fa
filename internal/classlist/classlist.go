// Package classlist parses the line-oriented list of types a dump run
// resolves.
//
//	# comment
//	java/lang/Object id: 0
//	com/example/Foo id: 1 super: 0 interfaces: 5 6 source: /app/foo.jar
//	@lambda-proxy com/example/Foo run ()Ljava/lang/Runnable; ...
//	@lambda-form-invoker [LF_RESOLVE] java.lang.invoke.Holder ...
//
// Numeric ids only exist while dumping. A line may refer to the id of a
// line that appears later, so references are checked once the whole list
// has been read.
package classlist

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// NoID marks a line without an id.
const NoID = -1

// Tag names.
const (
	TagLambdaProxy       = "@lambda-proxy"
	TagLambdaFormInvoker = "@lambda-form-invoker"
)

const (
	maxLineLength    = 64 * 1024
	optionID         = "id:"
	optionSuper      = "super:"
	optionInterfaces = "interfaces:"
	optionSource     = "source:"
)

// Line is one type entry.
type Line struct {
	Name       string
	ID         int
	SuperID    int
	Interfaces []int
	Source     string
	LineNo     int
}

// HasSource reports whether the type is loaded from an explicit source
// rather than through its namespace's normal search path.
func (l *Line) HasSource() bool { return l.Source != "" }

// LambdaProxy is one @lambda-proxy line.
type LambdaProxy struct {
	Caller string
	Items  []string
	LineNo int
}

// Key returns the items joined by spaces; it identifies the proxy for
// its caller.
func (p *LambdaProxy) Key() string { return strings.Join(p.Items, " ") }

// List is a parsed classlist.
type List struct {
	Lines              []*Line
	LambdaProxies      []*LambdaProxy
	LambdaFormInvokers []string

	byID map[int]*Line
}

// ByID returns the line declaring id, or nil.
func (l *List) ByID(id int) *Line {
	return l.byID[id]
}

// IDs returns every declared id in ascending order.
func (l *List) IDs() []int {
	ids := make([]int, 0, len(l.byID))
	for id := range l.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ParseFile parses the classlist at path.
func ParseFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to open classlist "+path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a classlist.
func Parse(r io.Reader) (*List, error) {
	list := &List{byID: make(map[int]*Line)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := Normalize(scanner.Text())
		if text == "" {
			continue
		}
		if err := list.parseLine(text, lineNo); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeParseError, "failed to read classlist", err)
	}
	if err := list.checkReferences(); err != nil {
		return nil, err
	}
	return list, nil
}

// Normalize strips a comment, maps tabs, CR and LF to spaces and removes
// trailing whitespace.
func Normalize(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	line = strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\r', '\n':
			return ' '
		}
		return r
	}, line)
	return strings.TrimRight(line, " ")
}

func (l *List) parseLine(text string, lineNo int) error {
	text = strings.TrimLeft(text, " ")
	if strings.HasPrefix(text, "@") {
		return l.parseTag(text, lineNo)
	}

	name, rest := nextToken(text)
	line := &Line{Name: name, ID: NoID, SuperID: NoID, LineNo: lineNo}

	for rest != "" {
		var opt string
		opt, rest = nextOption(rest)
		switch opt {
		case optionID:
			id, tail, err := parseInt(rest, lineNo, opt)
			if err != nil {
				return err
			}
			line.ID, rest = id, tail
		case optionSuper:
			id, tail, err := parseInt(rest, lineNo, opt)
			if err != nil {
				return err
			}
			line.SuperID, rest = id, tail
		case optionInterfaces:
			for {
				tok, tail := nextToken(rest)
				id, err := strconv.Atoi(tok)
				if tok == "" || err != nil {
					break
				}
				line.Interfaces = append(line.Interfaces, id)
				rest = tail
			}
			if len(line.Interfaces) == 0 {
				return parseError(lineNo, "interfaces: requires at least one id")
			}
		case optionSource:
			line.Source, rest = nextToken(rest)
			if line.Source == "" {
				return parseError(lineNo, "source: requires a path")
			}
		default:
			return parseError(lineNo, "unknown input %q", opt)
		}
	}

	if err := l.validate(line); err != nil {
		return err
	}
	if line.ID != NoID {
		l.byID[line.ID] = line
	}
	l.Lines = append(l.Lines, line)
	return nil
}

func (l *List) validate(line *Line) error {
	if line.ID != NoID {
		if prev, ok := l.byID[line.ID]; ok {
			return parseError(line.LineNo, "duplicated id %d for type %s (first used by %s on line %d)",
				line.ID, line.Name, prev.Name, prev.LineNo)
		}
	}
	if !line.HasSource() {
		if line.SuperID != NoID {
			return parseError(line.LineNo, "if source location is not specified, super must not be specified")
		}
		if len(line.Interfaces) > 0 {
			return parseError(line.LineNo, "if source location is not specified, interfaces must not be specified")
		}
		return nil
	}
	if line.ID == NoID {
		return parseError(line.LineNo, "if source location is specified, id must be specified")
	}
	if line.SuperID == NoID && line.Name != model.ObjectTypeName {
		return parseError(line.LineNo, "if source location is specified, super must be specified")
	}
	return nil
}

func (l *List) parseTag(text string, lineNo int) error {
	tag, rest := nextToken(text)
	switch tag {
	case TagLambdaProxy:
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			return parseError(lineNo, "%s requires a caller and at least one item", TagLambdaProxy)
		}
		l.LambdaProxies = append(l.LambdaProxies, &LambdaProxy{
			Caller: fields[0],
			Items:  fields[1:],
			LineNo: lineNo,
		})
	case TagLambdaFormInvoker:
		if rest == "" {
			return parseError(lineNo, "%s requires a line", TagLambdaFormInvoker)
		}
		l.LambdaFormInvokers = append(l.LambdaFormInvokers, rest)
	default:
		return parseError(lineNo, "invalid tag %s", tag)
	}
	return nil
}

// checkReferences verifies that every super and interface id names a
// declared line.
func (l *List) checkReferences() error {
	for _, line := range l.Lines {
		if line.SuperID != NoID && l.byID[line.SuperID] == nil {
			return parseError(line.LineNo, "super id %d of %s has not been defined", line.SuperID, line.Name)
		}
		for _, id := range line.Interfaces {
			if l.byID[id] == nil {
				return parseError(line.LineNo, "interface id %d of %s has not been defined", id, line.Name)
			}
		}
	}
	return nil
}

// nextToken splits off the first space-separated token.
func nextToken(s string) (string, string) {
	s = strings.TrimLeft(s, " ")
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], strings.TrimLeft(s[i+1:], " ")
	}
	return s, ""
}

// nextOption splits off an option keyword. The keyword ends at its colon,
// so "id:3" and "id: 3" are both accepted.
func nextOption(s string) (string, string) {
	s = strings.TrimLeft(s, " ")
	if i := strings.IndexByte(s, ':'); i >= 0 && !strings.Contains(s[:i], " ") {
		return s[:i+1], strings.TrimLeft(s[i+1:], " ")
	}
	return nextToken(s)
}

func parseInt(s string, lineNo int, opt string) (int, string, error) {
	tok, rest := nextToken(s)
	v, err := strconv.Atoi(tok)
	if err != nil || v < 0 {
		return 0, s, parseError(lineNo, "%s requires a non-negative integer, got %q", opt, tok)
	}
	return v, rest, nil
}

func parseError(lineNo int, format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.CodeParseError, "classlist line %d: "+format,
		append([]interface{}{lineNo}, args...)...)
}
