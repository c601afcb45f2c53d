package domain

import "time"

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	// Members — снапшот на момент чтения, не живой view.
	Members []string `json:"members,omitempty"`
}
