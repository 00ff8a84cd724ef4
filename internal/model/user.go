package model

import "time"

// 用户角色
const (
	RoleAdmin  = "ADMIN"
	RoleEditor = "EDITOR"
)

// User 对应 users 表。账号的注册、登录与密码由 CMS 的会话服务负责，这里只读取身份与角色。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	Role      string    `gorm:"type:varchar(20);not null;default:'EDITOR'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// IsAdmin 判断用户是否为管理员。
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
