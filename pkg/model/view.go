package model

import "time"

// Profile is the public view of a user, returned from auth and profile
// endpoints. It never includes credentials.
type Profile struct {
	ID             string   `json:"id"`
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	Email          string   `json:"email"`
	PhoneNumber    string   `json:"phone_number,omitempty"`
	ProfilePicture string   `json:"profile_picture,omitempty"`
	Gender         Gender   `json:"gender,omitempty"`
	Bio            string   `json:"bio,omitempty"`
	Street         string   `json:"street,omitempty"`
	City           string   `json:"city,omitempty"`
	ZipCode        *int     `json:"zip_code,omitempty"`
	Country        string   `json:"country,omitempty"`
	Provider       Provider `json:"provider"`
}

// ListEntry is a row in the public user listing.
type ListEntry struct {
	ID             string    `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	PhoneNumber    string    `json:"phone_number,omitempty"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	Gender         Gender    `json:"gender,omitempty"`
	City           string    `json:"city,omitempty"`
	ZipCode        *int      `json:"zip_code,omitempty"`
	Country        string    `json:"country,omitempty"`
	TotalSpent     float64   `json:"total_spent"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Address is a user's postal address.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	ZipCode *int   `json:"zip_code"`
	Country string `json:"country"`
}

// Stats summarises a user's spending.
type Stats struct {
	ID         string  `json:"id"`
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	Email      string  `json:"email"`
	TotalSpent float64 `json:"total_spent"`
}

// AvatarURLFunc resolves a stored avatar key into a URL clients can fetch.
type AvatarURLFunc func(key string) string

// Profile returns the public view of u.
func (u *User) Profile(avatarURL AvatarURLFunc) *Profile {
	return &Profile{
		ID:             u.ID,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Email:          u.Email,
		PhoneNumber:    u.PhoneNumber,
		ProfilePicture: resolveAvatar(u.Avatar, avatarURL),
		Gender:         u.Gender,
		Bio:            u.Bio,
		Street:         u.Street,
		City:           u.City,
		ZipCode:        u.ZipCode,
		Country:        u.Country,
		Provider:       u.Provider,
	}
}

// ListEntry returns the listing view of u.
func (u *User) ListEntry(avatarURL AvatarURLFunc) *ListEntry {
	return &ListEntry{
		ID:             u.ID,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Email:          u.Email,
		PhoneNumber:    u.PhoneNumber,
		ProfilePicture: resolveAvatar(u.Avatar, avatarURL),
		Gender:         u.Gender,
		City:           u.City,
		ZipCode:        u.ZipCode,
		Country:        u.Country,
		TotalSpent:     u.TotalSpent,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// Address returns the address view of u.
func (u *User) Address() *Address {
	return &Address{
		Street:  u.Street,
		City:    u.City,
		ZipCode: u.ZipCode,
		Country: u.Country,
	}
}

// Stats returns the spending view of u.
func (u *User) Stats() *Stats {
	return &Stats{
		ID:         u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Email:      u.Email,
		TotalSpent: u.TotalSpent,
	}
}

func resolveAvatar(key string, avatarURL AvatarURLFunc) string {
	if key == "" || avatarURL == nil {
		return key
	}
	return avatarURL(key)
}
