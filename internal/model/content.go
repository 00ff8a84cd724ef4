// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// 内容状态
const (
	ContentStatusDraft     = "draft"
	ContentStatusPublished = "published"
)

// Content 对应 contents 表，由 CMS 的内容管理界面维护。
// AI 模块只读取已发布页面并在页面生成器中新建内容。
type Content struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ContentType  string         `gorm:"type:varchar(100);index;not null" json:"contentType"`
	Title        string         `gorm:"type:varchar(255);not null" json:"title"`
	Slug         string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"slug"`
	Body         string         `gorm:"type:longtext" json:"body"`
	Elements     datatypes.JSON `json:"elements,omitempty"`
	CustomFields datatypes.JSON `json:"customFields,omitempty"`
	Status       string         `gorm:"type:varchar(20);index;not null;default:'draft'" json:"status"`
	AuthorID     uint           `gorm:"not null" json:"authorId"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Content) TableName() string {
	return "contents"
}

// ContentType 对应 content_types 表。Fields 保存自定义字段的 schema（JSON 数组）。
type ContentType struct {
	ID     uint           `gorm:"primaryKey" json:"id"`
	Slug   string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	Name   string         `gorm:"type:varchar(100);not null" json:"name"`
	Fields datatypes.JSON `json:"fields,omitempty"`
}

func (ContentType) TableName() string {
	return "content_types"
}

// CustomField 是内容类型自定义字段 schema 中的一项。
type CustomField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// Element 对应 elements 表：可复用的 UI 区块，Slots 描述可覆盖的插槽。
type Element struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(100);not null" json:"name"`
	Slug      string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	Category  string         `gorm:"type:varchar(100)" json:"category"`
	Slots     datatypes.JSON `json:"slots,omitempty"`
	HTML      string         `gorm:"type:longtext" json:"html"`
	CSS       string         `gorm:"type:longtext" json:"css"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Element) TableName() string {
	return "elements"
}

// ElementSlot 是元素插槽定义。
type ElementSlot struct {
	Key  string `json:"key"`
	Type string `json:"type"`
}

// Component 对应 components 表：可视化构建器中的组件，Tree 为节点树 JSON。
type Component struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(100);not null" json:"name"`
	Slug      string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	Tree      datatypes.JSON `json:"tree"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Component) TableName() string {
	return "components"
}
