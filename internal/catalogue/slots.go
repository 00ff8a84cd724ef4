// Package catalogue 从可复用元素与构建器组件中提取可覆盖的插槽，并生成提示词用的目录摘要。
package catalogue

import (
	"sort"
	"strings"
)

// 节点类型
const (
	NodeText  = "text"
	NodeFrame = "frame"
)

// 字号提示
const (
	HintHeading    = "heading"
	HintSubheading = "subheading"
	HintBodyText   = "body text"
	HintSmallText  = "small text"
)

// Node 是构建器组件树中的一个节点。ID 为空的节点在路径中是透明的。
type Node struct {
	ID       string  `json:"id,omitempty"`
	Type     string  `json:"type"`
	Name     string  `json:"name,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// SlotPath 是一个可覆盖节点的路径，例如 hero-cta/hero-cta-text。
type SlotPath struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Hint string `json:"hint"`
}

// CollectSlotPaths 深度优先遍历组件树，返回全部带 ID 的 text 节点的路径。
func CollectSlotPaths(root *Node) []SlotPath {
	var out []SlotPath
	walk(root, nil, &out)
	return out
}

func walk(n *Node, prefix []string, out *[]SlotPath) {
	if n == nil {
		return
	}
	path := prefix
	if n.ID != "" {
		path = append(append([]string(nil), prefix...), n.ID)
		if n.Type == NodeText {
			*out = append(*out, SlotPath{
				Path: strings.Join(path, "/"),
				Type: NodeText,
				Hint: FontSizeHint(n.FontSize),
			})
		}
	}
	for _, c := range n.Children {
		walk(c, path, out)
	}
}

// FontSizeHint 按字号阈值给出文本的语义提示。
func FontSizeHint(size float64) string {
	switch {
	case size >= 32:
		return HintHeading
	case size >= 20:
		return HintSubheading
	case size >= 16:
		return HintBodyText
	default:
		return HintSmallText
	}
}

// ValidOverrides 把覆盖表拆分为合法部分与未知的键（已排序）。
func ValidOverrides(paths []SlotPath, overrides map[string]interface{}) (map[string]interface{}, []string) {
	known := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		known[p.Path] = struct{}{}
	}
	accepted := make(map[string]interface{}, len(overrides))
	var unknown []string
	for k, v := range overrides {
		if _, ok := known[k]; ok {
			accepted[k] = v
			continue
		}
		unknown = append(unknown, k)
	}
	sort.Strings(unknown)
	return accepted, unknown
}
