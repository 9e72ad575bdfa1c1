package statushandler

import (
	"time"

	"pagechatgo/internal/rooms"
	"pagechatgo/internal/usernames"
)

type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      float64         `json:"uptime"`
	Rooms       rooms.Stats     `json:"rooms"`
	Usernames   usernames.Stats `json:"usernames"`
	Environment string          `json:"environment"`
} // @name HealthResponse

type StatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Rooms   int    `json:"rooms"`
	Users   int    `json:"users"`
} // @name StatusResponse

type TestResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin"`
} // @name TestResponse
