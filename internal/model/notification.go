package model

import "time"

const (
	NotificationChannelEmail = "email"
	NotificationChannelInApp = "in_app"
)

type Notification struct {
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
