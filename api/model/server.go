package model

import (
	"slices"
	"time"
)

type Status string

const (
	StatusInstalling      Status = "installing"
	StatusOffline         Status = "offline"
	StatusInstallFailed   Status = "install_failed"
	StatusRestoringBackup Status = "restoring_backup"
)

// Transitional reports whether the daemon is in the middle of changing the
// server's files, during which no other lifecycle action is accepted.
func (s Status) Transitional() bool {
	return s == StatusInstalling || s == StatusRestoringBackup
}

type Limits struct {
	Memory  int64  `json:"memory"` // MiB
	Swap    int64  `json:"swap"`
	Disk    int64  `json:"disk"` // MiB
	IO      int    `json:"io"`
	CPU     int    `json:"cpu"` // percent of one core, 0 = unlimited
	Threads string `json:"threads,omitempty"`
}

type FeatureLimits struct {
	Backups     int `json:"backups"`
	Allocations int `json:"allocations"`
}

type Allocation struct {
	ID      string `json:"id"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Primary bool   `json:"primary"`
	Notes   string `json:"notes,omitempty"`
}

type Subuser struct {
	UserID      string   `json:"userId"`
	Permissions []string `json:"permissions"`
}

type Server struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	OwnerID           string            `json:"ownerId"`
	NodeID            string            `json:"nodeId"`
	EggID             string            `json:"eggId"`
	Image             string            `json:"image"`
	Startup           string            `json:"startup"`
	Limits            Limits            `json:"limits"`
	FeatureLimits     FeatureLimits     `json:"featureLimits"`
	Environment       map[string]string `json:"environment"`
	Allocations       []Allocation      `json:"allocations"`
	DefaultAllocation string            `json:"defaultAllocation"`
	Status            Status            `json:"status"`
	Suspended         bool              `json:"suspended"`
	InstallError      string            `json:"installError,omitempty"`
	SkipEggScripts    bool              `json:"skipEggScripts"`
	Subusers          []Subuser         `json:"subusers,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

func (s Server) RecordID() string { return s.ID }

// ShortID is the identifier prefix used in SFTP usernames.
func (s *Server) ShortID() string {
	if len(s.ID) < 8 {
		return s.ID
	}
	return s.ID[:8]
}

// PrimaryAllocation returns the allocation flagged primary, or nil.
func (s *Server) PrimaryAllocation() *Allocation {
	for i := range s.Allocations {
		if s.Allocations[i].Primary {
			return &s.Allocations[i]
		}
	}
	return nil
}

func (s *Server) Allocation(id string) *Allocation {
	for i := range s.Allocations {
		if s.Allocations[i].ID == id {
			return &s.Allocations[i]
		}
	}
	return nil
}

// SetPrimary flags exactly one allocation as primary and mirrors it into
// DefaultAllocation. It reports false when id is not one of the server's.
func (s *Server) SetPrimary(id string) bool {
	if s.Allocation(id) == nil {
		return false
	}
	for i := range s.Allocations {
		s.Allocations[i].Primary = s.Allocations[i].ID == id
	}
	s.DefaultAllocation = id
	return true
}

// Mappings groups allocated ports by IP, ports ascending.
func (s *Server) Mappings() map[string][]int {
	out := make(map[string][]int)
	for _, a := range s.Allocations {
		out[a.IP] = append(out[a.IP], a.Port)
	}
	for ip := range out {
		slices.Sort(out[ip])
	}
	return out
}

// Permits reports whether actor may exercise perm on this server. Owners and
// admins hold every permission; subusers hold what they were granted.
func (s *Server) Permits(actor Actor, perm string) bool {
	if actor.Admin || (actor.UserID != "" && actor.UserID == s.OwnerID) {
		return true
	}
	for _, su := range s.Subusers {
		if su.UserID != actor.UserID {
			continue
		}
		return slices.Contains(su.Permissions, PermissionWildcard) || slices.Contains(su.Permissions, perm)
	}
	return false
}

// Grants returns the permission set actor holds on the server, or nil.
func (s *Server) Grants(actor Actor) []string {
	if actor.Admin || (actor.UserID != "" && actor.UserID == s.OwnerID) {
		return []string{PermissionWildcard}
	}
	for _, su := range s.Subusers {
		if su.UserID == actor.UserID {
			return slices.Clone(su.Permissions)
		}
	}
	return nil
}
