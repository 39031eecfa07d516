package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a person who can sign in. Developers may live outside any tenant;
// everyone else belongs to exactly one.
type User struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name         string         `json:"name" gorm:"type:varchar(255);not null"`
	Email        string         `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Password     string         `json:"-" gorm:"type:varchar(255);not null"`
	TenantID     *uuid.UUID     `json:"tenant_id" gorm:"type:uuid;index"`
	Avatar       *string        `json:"-" gorm:"type:varchar(512)"`
	ProviderName *string        `json:"provider_name,omitempty" gorm:"type:varchar(64);index:idx_users_provider"`
	ProviderID   *string        `json:"provider_id,omitempty" gorm:"type:varchar(255);index:idx_users_provider"`
	LastLoginAt  *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
	Roles  []Role  `json:"roles,omitempty" gorm:"many2many:assigned_roles;"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// PrimaryRole returns the name of the first held role, or "" when none is held
func (u *User) PrimaryRole() string {
	if len(u.Roles) == 0 {
		return ""
	}
	return u.Roles[0].Name
}

// HasAvatar reports whether an avatar object key is stored for the user
func (u *User) HasAvatar() bool {
	return u.Avatar != nil && *u.Avatar != ""
}

// UserProfile represents the user profile stored in Redis
type UserProfile struct {
	UserID   uuid.UUID  `json:"user_id"`
	Email    string     `json:"email"`
	Role     string     `json:"role"`
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
}

// TokenSession represents a session stored in Redis
type TokenSession struct {
	UserProfile UserProfile `json:"user_profile"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUsedAt  time.Time   `json:"last_used_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	SessionID   string      `json:"session_id"`
}

func (ts *TokenSession) IsExpired() bool {
	return time.Now().After(ts.ExpiresAt)
}

func (ts *TokenSession) UpdateLastUsed() {
	ts.LastUsedAt = time.Now()
}
