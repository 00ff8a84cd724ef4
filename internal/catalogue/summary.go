package catalogue

import (
	"encoding/json"
	"fmt"
	"strings"

	"cms-assistant-go/internal/model"
)

// 目录项类型
const (
	KindElement   = "element"
	KindComponent = "component"
)

// Slot 是目录项的一个插槽。
type Slot struct {
	Key  string
	Type string
	Hint string
}

// Item 是一个可复用的构建块。
type Item struct {
	Kind       string
	Name       string
	Identifier string
	Slots      []Slot
}

// SlotPaths 返回该目录项的插槽路径，供覆盖表校验使用。
func (it Item) SlotPaths() []SlotPath {
	out := make([]SlotPath, 0, len(it.Slots))
	for _, s := range it.Slots {
		out = append(out, SlotPath{Path: s.Key, Type: s.Type, Hint: s.Hint})
	}
	return out
}

// FromElement 把元素转换为目录项。插槽定义损坏时返回没有插槽的目录项。
func FromElement(e model.Element) Item {
	it := Item{Kind: KindElement, Name: e.Name, Identifier: e.Slug}
	if len(e.Slots) == 0 {
		return it
	}
	var slots []model.ElementSlot
	if err := json.Unmarshal(e.Slots, &slots); err != nil {
		return it
	}
	for _, s := range slots {
		it.Slots = append(it.Slots, Slot{Key: s.Key, Type: s.Type})
	}
	return it
}

// FromComponent 解析组件树并把其中的插槽路径转换为目录项。
func FromComponent(c model.Component) (Item, error) {
	it := Item{Kind: KindComponent, Name: c.Name, Identifier: c.Slug}
	if len(c.Tree) == 0 {
		return it, nil
	}
	var root Node
	if err := json.Unmarshal(c.Tree, &root); err != nil {
		return it, fmt.Errorf("component %s has an invalid tree: %w", c.Slug, err)
	}
	for _, p := range CollectSlotPaths(&root) {
		it.Slots = append(it.Slots, Slot{Key: p.Path, Type: p.Type, Hint: p.Hint})
	}
	return it, nil
}

// SummarizeCatalogue 把目录项格式化为提示词文本。
func SummarizeCatalogue(items []Item) string {
	if len(items) == 0 {
		return "(no reusable blocks available)"
	}
	var sb strings.Builder
	for _, it := range items {
		fmt.Fprintf(&sb, "- %s (%s: %s)\n", it.Name, it.Kind, it.Identifier)
		if len(it.Slots) == 0 {
			sb.WriteString("  slots: none\n")
			continue
		}
		sb.WriteString("  slots:\n")
		for _, s := range it.Slots {
			if s.Hint != "" {
				fmt.Fprintf(&sb, "    - %s [%s, %s]\n", s.Key, s.Type, s.Hint)
			} else {
				fmt.Fprintf(&sb, "    - %s [%s]\n", s.Key, s.Type)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
