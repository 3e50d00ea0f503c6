package decoder

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter 决定一个路径是否进入批次。被拒绝的路径直接丢弃，不算错误。
type Filter interface {
	Match(p string) bool
}

// FilterFunc 把普通函数适配为 Filter。
type FilterFunc func(p string) bool

func (f FilterFunc) Match(p string) bool { return f(p) }

// AcceptAll 接受所有路径。
var AcceptAll Filter = FilterFunc(func(string) bool { return true })

// GlobFilter 基于 doublestar 的 include/exclude 规则，支持任意深度的 "**"。
// 模式与完整路径（去掉开头的 "/"）比较；不含 "/" 的模式还会与文件名比较。Include 为空表示全部包含。
type GlobFilter struct {
	Include []string
	Exclude []string
}

func (g GlobFilter) Match(p string) bool {
	if len(g.Include) > 0 && !matchAny(g.Include, p) {
		return false
	}
	return !matchAny(g.Exclude, p)
}

// Validate 检查所有模式的语法。
func (g GlobFilter) Validate() error {
	for _, pattern := range append(append([]string{}, g.Include...), g.Exclude...) {
		if !doublestar.ValidatePattern(strings.TrimPrefix(pattern, "/")) {
			return invalid("bad glob pattern "+pattern, doublestar.ErrBadPattern)
		}
	}
	return nil
}

func matchAny(patterns []string, p string) bool {
	rel := strings.TrimPrefix(p, "/")
	base := path.Base(p)
	for _, pattern := range patterns {
		pattern = strings.TrimPrefix(pattern, "/")
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, err := doublestar.Match(pattern, base); err == nil && ok {
				return true
			}
		}
	}
	return false
}
