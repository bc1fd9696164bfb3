package textfsm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sshcollectorpro/netsession/internal/session"
	"github.com/sshcollectorpro/netsession/pkg/logger"
)

// EnvTemplateDir 模板目录环境变量
const EnvTemplateDir = "NET_TEXTFSM"

const indexFile = "index"

// ResolveTemplateDir 解析模板目录：显式值优先，其次 NET_TEXTFSM，
// 最后 ~/ntc-templates/ntc_templates/templates。给定目录下没有 index 时追加 templates。
// 只做路径计算，不检查目录是否存在。
func ResolveTemplateDir(explicit string) string {
	dir := explicit
	if dir == "" {
		dir = os.Getenv(EnvTemplateDir)
	}
	if dir == "" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "ntc-templates", "ntc_templates", "templates")
	}
	dir = expandHome(dir)
	if !isFile(filepath.Join(dir, indexFile)) {
		dir = filepath.Join(dir, "templates")
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return dir
}

// Converter 基于模板目录的结构化输出解析器，实现 session.Converter
type Converter struct {
	dir     string
	aliases map[string]string

	once     sync.Once
	index    *Index
	indexErr error

	mu        sync.Mutex
	templates map[string]*Template
}

// ConverterOption 构造选项
type ConverterOption func(*Converter)

// WithPlatformAliases 设备类型到模板平台名的映射，例如 cisco_telnet -> cisco_ios
func WithPlatformAliases(aliases map[string]string) ConverterOption {
	return func(c *Converter) {
		for k, v := range aliases {
			c.aliases[strings.ToLower(k)] = v
		}
	}
}

// NewConverter 创建解析器。目录在第一次 Convert 时才检查。
func NewConverter(templateDir string, opts ...ConverterOption) *Converter {
	c := &Converter{
		dir:       templateDir,
		aliases:   map[string]string{},
		templates: map[string]*Template{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir 模板目录
func (c *Converter) Dir() string { return c.dir }

// Convert 解析命令输出。template 非空时直接使用该模板文件；
// 否则按 index 查找 platform + command 对应的模板。
// 没有匹配的模板或结果为空时返回 nil, nil。
func (c *Converter) Convert(raw, platform, command, template string) ([]session.Record, error) {
	command = strings.TrimSpace(command)
	if template != "" {
		t, err := c.load(expandHome(template))
		if err != nil {
			return nil, err
		}
		return toRecords(t.Parse(raw))
	}
	if platform == "" || command == "" {
		return nil, errors.New("either platform/command or template must be specified")
	}

	idx, err := c.loadIndex()
	if err != nil {
		return nil, err
	}
	platform = c.platform(platform)
	records, err := c.parseIndexed(idx, raw, platform, command)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 && strings.Contains(platform, "cisco_xe") {
		logger.Debugf("textfsm: no records for %s on %s, retrying as cisco_ios", command, platform)
		return c.parseIndexed(idx, raw, "cisco_ios", command)
	}
	return records, nil
}

func (c *Converter) platform(p string) string {
	if alias, ok := c.aliases[strings.ToLower(p)]; ok {
		return alias
	}
	return p
}

func (c *Converter) parseIndexed(idx *Index, raw, platform, command string) ([]session.Record, error) {
	row, ok := idx.Lookup(map[string]string{"Platform": platform, "Command": command})
	if !ok {
		return nil, nil
	}
	// 多模板时只取第一个能解析出记录的
	for _, name := range row.Templates {
		t, err := c.load(filepath.Join(c.dir, name))
		if err != nil {
			return nil, err
		}
		records, err := toRecords(t.Parse(raw))
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		if len(records) > 0 {
			return records, nil
		}
	}
	return nil, nil
}

func (c *Converter) loadIndex() (*Index, error) {
	c.once.Do(func() {
		path := filepath.Join(c.dir, indexFile)
		if c.dir == "" || !isDir(c.dir) || !isFile(path) {
			c.indexErr = &session.Error{
				Kind: session.KindConfigurationFault,
				Err: fmt.Errorf("directory containing TextFSM index file not found: %q (set %s or textfsm.template_dir)",
					c.dir, EnvTemplateDir),
			}
			return
		}
		f, err := os.Open(path)
		if err != nil {
			c.indexErr = &session.Error{Kind: session.KindConfigurationFault, Err: err}
			return
		}
		defer f.Close()
		idx, err := ParseIndex(f)
		if err != nil {
			c.indexErr = &session.Error{Kind: session.KindConfigurationFault, Err: fmt.Errorf("parse %s: %w", path, err)}
			return
		}
		c.index = idx
		logger.Debugf("textfsm: loaded index %s with %d entries", path, idx.Len())
	})
	return c.index, c.indexErr
}

// load 读取并缓存模板
func (c *Converter) load(path string) (*Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.templates[path]; ok {
		return t, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()
	t, err := ParseTemplate(f)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	c.templates[path] = t
	return t, nil
}

func toRecords(rows []map[string]interface{}, err error) ([]session.Record, error) {
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	out := make([]session.Record, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
