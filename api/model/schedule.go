package model

import "time"

const (
	ScheduleActionPower   = "power"
	ScheduleActionCommand = "command"
)

type Schedule struct {
	ID        string     `json:"id"`
	ServerID  string     `json:"serverId"`
	Name      string     `json:"name"`
	Cron      string     `json:"cron"`    // five-field cron expression
	Action    string     `json:"action"`  // power, command
	Payload   string     `json:"payload"` // power action or console command
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (s Schedule) RecordID() string { return s.ID }
