// Package store persists airdancer users, switches and groups in SQLite.
package store

import (
	"errors"
	"time"
)

// Sentinel errors callers branch on. Wrapped errors from this package can
// be tested with errors.Is.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrSwitchNotFound = errors.New("switch not found")
	ErrGroupNotFound  = errors.New("group not found")
	ErrGroupExists    = errors.New("group already exists")
	ErrSwitchTaken    = errors.New("switch is registered to another user")
	ErrReservedGroup  = errors.New("group name is reserved")
	ErrNotGroupMember = errors.New("user is not a member of the group")
)

// ReservedGroup is the virtual group containing every user with a
// registered switch. It always exists and cannot be created, destroyed or
// given explicit members.
const ReservedGroup = "all"

// Switch status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Switch power states. PowerOn and PowerOff mirror the values Tasmota
// publishes on stat topics.
const (
	PowerOn      = "ON"
	PowerOff     = "OFF"
	PowerUnknown = "unknown"
)

// User is a Slack workspace member known to the bot.
type User struct {
	SlackUserID string
	Username    string
	IsAdmin     bool
	Botherable  bool
	SwitchID    string // empty when no switch is registered
	CreatedAt   time.Time
}

// HasSwitch reports whether the user has a registered switch.
func (u *User) HasSwitch() bool {
	return u.SwitchID != ""
}

// DeviceInfo holds the hardware details reported by Tasmota discovery.
type DeviceInfo struct {
	IP       string `json:"ip,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	MAC      string `json:"mac,omitempty"`
	Model    string `json:"model,omitempty"`
	Software string `json:"software,omitempty"`
}

// Switch is a Tasmota device seen via MQTT discovery.
type Switch struct {
	SwitchID   string
	Status     string
	PowerState string
	LastSeen   time.Time
	DeviceInfo *DeviceInfo // nil when discovery carried no details
}

// Owner identifies the user a switch is registered to.
type Owner struct {
	SlackUserID string
	Username    string
	IsAdmin     bool
	Botherable  bool
}

// SwitchWithOwner joins a switch with its owning user, if any.
type SwitchWithOwner struct {
	Switch
	Owner *Owner
}
