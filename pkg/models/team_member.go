package models

import "time"

const AdminGroup = "admin"

type TeamMember struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Status       string    `json:"status"`
	Enabled      bool      `json:"enabled"`
	Groups       []string  `json:"groups"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
}

type NewTeamMember struct {
	Email             string
	TemporaryPassword string
	IsAdmin           bool
}

type DashboardStatistics struct {
	TotalSubmissions int `json:"totalSubmissions"`
	TotalSchemas     int `json:"totalSchemas"`
	TotalUsers       int `json:"totalUsers"`
}

type Dashboard struct {
	Statistics        DashboardStatistics `json:"statistics"`
	RecentSubmissions []Submission        `json:"recentSubmissions"`
}
