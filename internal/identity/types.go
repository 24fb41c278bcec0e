// Package identity is the relational user-mapping store: it binds a
// WhatsApp phone number to the internal API identity the agent loop must
// inject into every generated tool call.
package identity

import "time"

// UserMapping binds a phone number to the fleet API identity used when
// dispatching tool calls on that sender's behalf.
type UserMapping struct {
	Phone       string `gorm:"primaryKey;column:phone"`
	APIIdentity string `gorm:"column:api_identity"`
	DisplayName string `gorm:"column:display_name"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName pins the GORM table name regardless of struct name pluralization.
func (UserMapping) TableName() string {
	return "user_mappings"
}
