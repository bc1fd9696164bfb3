// Package textfsm 把设备命令的文本输出按 TextFSM 模板解析为记录，
// 并支持 ntc-templates 风格的 index 文件按平台与命令选择模板。
package textfsm

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// 行操作与记录操作
const (
	lineNext     = "Next"
	lineContinue = "Continue"
	lineError    = "Error"

	recordNone     = "NoRecord"
	recordRecord   = "Record"
	recordClear    = "Clear"
	recordClearAll = "Clearall"
)

var (
	valueLineRe = regexp.MustCompile(`^Value\s+(?:([\w,]+)\s+)?(\w+)\s+(\(.*\))\s*$`)
	varRe       = regexp.MustCompile(`\$\{(\w+)\}|\$(\w+)`)
	stateNameRe = regexp.MustCompile(`^\w+$`)
)

type value struct {
	name     string
	regex    string
	required bool
	filldown bool
	list     bool
	key      bool
}

type rule struct {
	line      int
	re        *regexp.Regexp
	lineOp    string
	recordOp  string
	newState  string
	errorText string
}

// Template 已编译的 TextFSM 模板
type Template struct {
	values     []*value
	byName     map[string]*value
	states     map[string][]*rule
	eofDefined bool
}

// Header 模板定义的字段名（保持定义顺序）
func (t *Template) Header() []string {
	out := make([]string, len(t.values))
	for i, v := range t.values {
		out[i] = v.name
	}
	return out
}

// ParseTemplate 解析模板文本
func ParseTemplate(r io.Reader) (*Template, error) {
	t := &Template{
		byName: map[string]*value{},
		states: map[string][]*rule{},
	}
	sc := bufio.NewScanner(r)
	lineNo := 0
	inValues := true
	current := ""
	for sc.Scan() {
		lineNo++
		raw := strings.TrimRight(sc.Text(), " \t\r")
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if inValues {
			if trimmed == "" {
				if len(t.values) > 0 {
					inValues = false
				}
				continue
			}
			if !strings.HasPrefix(trimmed, "Value ") {
				return nil, fmt.Errorf("line %d: expected Value definition, got %q", lineNo, trimmed)
			}
			if err := t.addValue(trimmed, lineNo); err != nil {
				return nil, err
			}
			continue
		}
		if trimmed == "" {
			current = ""
			continue
		}
		if raw[0] != ' ' && raw[0] != '\t' {
			if !stateNameRe.MatchString(trimmed) {
				return nil, fmt.Errorf("line %d: invalid state name %q", lineNo, trimmed)
			}
			if _, dup := t.states[trimmed]; dup {
				return nil, fmt.Errorf("line %d: duplicate state %q", lineNo, trimmed)
			}
			current = trimmed
			t.states[current] = nil
			if current == "EOF" {
				t.eofDefined = true
			}
			continue
		}
		if current == "" {
			return nil, fmt.Errorf("line %d: rule outside of a state", lineNo)
		}
		r, err := t.parseRule(trimmed, lineNo)
		if err != nil {
			return nil, err
		}
		t.states[current] = append(t.states[current], r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(t.values) == 0 {
		return nil, fmt.Errorf("template defines no values")
	}
	if _, ok := t.states["Start"]; !ok {
		return nil, fmt.Errorf("template has no Start state")
	}
	for name, rules := range t.states {
		for _, r := range rules {
			if r.newState == "" || r.newState == "End" || r.newState == "EOF" {
				continue
			}
			if _, ok := t.states[r.newState]; !ok {
				return nil, fmt.Errorf("line %d: state %q references unknown state %q", r.line, name, r.newState)
			}
		}
	}
	return t, nil
}

// ParseTemplateString 解析模板字符串
func ParseTemplateString(s string) (*Template, error) {
	return ParseTemplate(strings.NewReader(s))
}

func (t *Template) addValue(line string, lineNo int) error {
	m := valueLineRe.FindStringSubmatch(line)
	if m == nil {
		return fmt.Errorf("line %d: malformed Value line %q", lineNo, line)
	}
	v := &value{name: m[2], regex: m[3]}
	if m[1] != "" {
		for _, opt := range strings.Split(m[1], ",") {
			switch opt {
			case "Required":
				v.required = true
			case "Filldown":
				v.filldown = true
			case "List":
				v.list = true
			case "Key":
				v.key = true
			case "Fillup":
				// 不支持回填，按普通值处理
			default:
				return fmt.Errorf("line %d: unknown Value option %q", lineNo, opt)
			}
		}
	}
	if _, err := regexp.Compile(v.regex); err != nil {
		return fmt.Errorf("line %d: invalid regex for %s: %w", lineNo, v.name, err)
	}
	if _, dup := t.byName[v.name]; dup {
		return fmt.Errorf("line %d: duplicate Value %s", lineNo, v.name)
	}
	t.values = append(t.values, v)
	t.byName[v.name] = v
	return nil
}

func (t *Template) parseRule(line string, lineNo int) (*rule, error) {
	if !strings.HasPrefix(line, "^") {
		return nil, fmt.Errorf("line %d: rule must start with ^: %q", lineNo, line)
	}
	match, action := line, ""
	if i := strings.LastIndex(line, " -> "); i >= 0 {
		match, action = line[:i], strings.TrimSpace(line[i+4:])
	}

	var expandErr error
	expanded := varRe.ReplaceAllStringFunc(match, func(tok string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(tok, "$"), "{"), "}")
		v, ok := t.byName[name]
		if !ok {
			expandErr = fmt.Errorf("line %d: unknown value %q", lineNo, name)
			return tok
		}
		return "(?P<" + v.name + ">" + v.regex[1:]
	})
	if expandErr != nil {
		return nil, expandErr
	}
	expanded = strings.ReplaceAll(expanded, "$$", "$")
	re, err := regexp.Compile(expanded)
	if err != nil {
		return nil, fmt.Errorf("line %d: invalid rule regex: %w", lineNo, err)
	}
	r := &rule{line: lineNo, re: re, lineOp: lineNext, recordOp: recordNone}
	if err := r.parseAction(action); err != nil {
		return nil, fmt.Errorf("line %d: %w", lineNo, err)
	}
	return r, nil
}

// parseAction 解析 "LineOp.RecordOp NewState" 形式的动作
func (r *rule) parseAction(action string) error {
	if action == "" {
		return nil
	}
	if strings.HasPrefix(action, lineError) {
		r.lineOp = lineError
		r.errorText = strings.Trim(strings.TrimSpace(strings.TrimPrefix(action, lineError)), `"`)
		return nil
	}
	fields := strings.Fields(action)
	ops := fields[0]
	rest := fields[1:]

	isLineOp := func(s string) bool { return s == lineNext || s == lineContinue }
	isRecordOp := func(s string) bool {
		return s == recordNone || s == recordRecord || s == recordClear || s == recordClearAll
	}

	switch {
	case strings.Contains(ops, "."):
		parts := strings.SplitN(ops, ".", 2)
		if !isLineOp(parts[0]) || !isRecordOp(parts[1]) {
			return fmt.Errorf("invalid action %q", ops)
		}
		r.lineOp, r.recordOp = parts[0], parts[1]
	case isLineOp(ops):
		r.lineOp = ops
	case isRecordOp(ops):
		r.recordOp = ops
	default:
		r.newState = ops
		rest = nil
	}
	if len(rest) > 1 {
		return fmt.Errorf("invalid action %q", action)
	}
	if len(rest) == 1 {
		r.newState = rest[0]
	}
	if r.lineOp == lineContinue && r.newState != "" {
		return fmt.Errorf("Continue cannot change state")
	}
	return nil
}

// Parse 对文本运行状态机，返回按字段名（小写）组织的记录
func (t *Template) Parse(text string) ([]map[string]interface{}, error) {
	rows, err := t.ParseRows(text)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]interface{}, len(t.values))
		for i, v := range t.values {
			rec[strings.ToLower(v.name)] = row[i]
		}
		out = append(out, rec)
	}
	return out, nil
}

// ParseRows 返回与 Header 顺序一致的行，值为 string 或 []string
func (t *Template) ParseRows(text string) ([][]interface{}, error) {
	run := newRun(t)
	state := "Start"
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for _, line := range lines {
		next, err := run.step(state, line)
		if err != nil {
			return nil, err
		}
		state = next
		if state == "End" {
			break
		}
	}
	if state != "End" && !t.eofDefined {
		run.record()
	}
	return run.rows, nil
}

type fsmRun struct {
	t      *Template
	scalar map[string]string
	lists  map[string][]string
	rows   [][]interface{}
}

func newRun(t *Template) *fsmRun {
	return &fsmRun{t: t, scalar: map[string]string{}, lists: map[string][]string{}}
}

func (f *fsmRun) step(state, line string) (string, error) {
	for _, r := range f.t.states[state] {
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		for i, name := range r.re.SubexpNames() {
			if name == "" || i >= len(m) {
				continue
			}
			v := f.t.byName[name]
			if v == nil {
				continue
			}
			if v.list {
				if m[i] != "" {
					f.lists[name] = append(f.lists[name], m[i])
				}
			} else {
				f.scalar[name] = m[i]
			}
		}
		if r.lineOp == lineError {
			msg := r.errorText
			if msg == "" {
				msg = "state error raised"
			}
			return state, fmt.Errorf("template rule line %d: %s: %q", r.line, msg, line)
		}
		switch r.recordOp {
		case recordRecord:
			f.record()
		case recordClear:
			f.clear(false)
		case recordClearAll:
			f.clear(true)
		}
		if r.lineOp == lineContinue {
			continue
		}
		if r.newState != "" {
			return r.newState, nil
		}
		return state, nil
	}
	return state, nil
}

// record 追加一行并清理非 Filldown 值；Required 值缺失时丢弃该行
func (f *fsmRun) record() {
	row := make([]interface{}, len(f.t.values))
	empty := true
	for i, v := range f.t.values {
		if v.list {
			items := append([]string{}, f.lists[v.name]...)
			if v.required && len(items) == 0 {
				f.clear(false)
				return
			}
			if len(items) > 0 {
				empty = false
			}
			row[i] = items
			continue
		}
		s := f.scalar[v.name]
		if v.required && s == "" {
			f.clear(false)
			return
		}
		if s != "" {
			empty = false
		}
		row[i] = s
	}
	if !empty {
		f.rows = append(f.rows, row)
	}
	f.clear(false)
}

func (f *fsmRun) clear(all bool) {
	for _, v := range f.t.values {
		if v.filldown && !all {
			continue
		}
		delete(f.scalar, v.name)
		delete(f.lists, v.name)
	}
}
