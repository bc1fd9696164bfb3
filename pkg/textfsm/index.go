package textfsm

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var completionRe = regexp.MustCompile(`\[\[(.+?)\]\]`)

// IndexRow index 文件中的一行：模板列表与属性匹配规则
type IndexRow struct {
	Templates []string
	attrs     map[string]*regexp.Regexp
}

// Index 模板索引（ntc-templates 的 index 文件格式）
type Index struct {
	header []string
	rows   []IndexRow
}

// ParseIndex 解析 index 文件。首个非注释行为列名，第一列必须是 Template。
func ParseIndex(r io.Reader) (*Index, error) {
	idx := &Index{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := splitColumns(line)
		if idx.header == nil {
			if len(cols) == 0 || cols[0] != "Template" {
				return nil, fmt.Errorf("index line %d: first column must be Template", lineNo)
			}
			idx.header = cols
			continue
		}
		if len(cols) != len(idx.header) {
			return nil, fmt.Errorf("index line %d: expected %d columns, got %d", lineNo, len(idx.header), len(cols))
		}
		row := IndexRow{attrs: map[string]*regexp.Regexp{}}
		for _, t := range strings.Split(cols[0], ":") {
			if t = strings.TrimSpace(t); t != "" {
				row.Templates = append(row.Templates, t)
			}
		}
		for i := 1; i < len(cols); i++ {
			pattern := cols[i]
			if idx.header[i] == "Command" {
				pattern = expandCompletion(pattern)
			}
			re, err := regexp.Compile("^(?:" + pattern + ")")
			if err != nil {
				return nil, fmt.Errorf("index line %d: column %s: %w", lineNo, idx.header[i], err)
			}
			row.attrs[idx.header[i]] = re
		}
		idx.rows = append(idx.rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if idx.header == nil {
		return nil, fmt.Errorf("index has no header")
	}
	return idx, nil
}

// Lookup 返回第一条所有给定属性都匹配的行；属性不在列中时忽略
func (idx *Index) Lookup(attrs map[string]string) (IndexRow, bool) {
	for _, row := range idx.rows {
		ok := true
		for col, val := range attrs {
			re, exists := row.attrs[col]
			if !exists {
				continue
			}
			if !re.MatchString(val) {
				ok = false
				break
			}
		}
		if ok {
			return row, true
		}
	}
	return IndexRow{}, false
}

// Len 索引行数
func (idx *Index) Len() int { return len(idx.rows) }

// expandCompletion 把 sh[[ow]] 展开为 sh(o(w)?)?，允许命令缩写
func expandCompletion(s string) string {
	return completionRe.ReplaceAllStringFunc(s, func(m string) string {
		word := completionRe.FindStringSubmatch(m)[1]
		var b strings.Builder
		for _, r := range word {
			b.WriteString("(")
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
		b.WriteString(strings.Repeat(")?", len([]rune(word))))
		return b.String()
	})
}

// splitColumns 按逗号切分并去掉两侧空白
func splitColumns(line string) []string {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
