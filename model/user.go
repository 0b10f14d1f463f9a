package model

import (
	"encoding/json"

	"github.com/mqy/pairchat/identity"
)

// User is an entry of the conversation list.
type User struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName"`
	Email      string `json:"email,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// UnmarshalJSON normalizes the user id.
func (u *User) UnmarshalJSON(data []byte) error {
	var w struct {
		ID         json.RawMessage `json:"_id"`
		FullName   string          `json:"fullName"`
		Email      string          `json:"email"`
		ProfilePic string          `json:"profilePic"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*u = User{
		ID:         identity.Normalize(nullToNil(w.ID)),
		FullName:   w.FullName,
		Email:      w.Email,
		ProfilePic: w.ProfilePic,
	}
	return nil
}
