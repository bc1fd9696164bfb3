package model

import "time"

// Device 设备清单
type Device struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name       string    `json:"name" gorm:"type:varchar(128);uniqueIndex;not null"`
	Address    string    `json:"address" gorm:"type:varchar(128);not null"`
	DeviceType string    `json:"device_type" gorm:"type:varchar(64);not null"`
	Username   string    `json:"username" gorm:"type:varchar(64)"`
	Password   string    `json:"-" gorm:"type:varchar(256)"`
	Secret     string    `json:"-" gorm:"type:varchar(256)"`
	Tags       string    `json:"tags" gorm:"type:varchar(256)"`
	Enabled    bool      `json:"enabled" gorm:"not null;default:true"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Device) TableName() string {
	return "devices"
}
