package model

import (
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// Gender is the self-reported gender of a user.
type Gender string

// Supported genders
const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// IsValid returns true for the known genders and the empty value.
func (g Gender) IsValid() bool {
	switch g {
	case "", GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

const maxNameLength = 30

// PhoneNumberRegex matches Bangladeshi mobile numbers in international form.
var PhoneNumberRegex = regexp.MustCompile(`^\+8801[3-9]\d{8}$`)

// User is a registered identity. Email is unique across all users and
// Provider is fixed at creation.
type User struct {
	ID           string   `json:"id"` // uuid
	Email        string   `json:"email"`
	PasswordHash string   `json:"password_hash,omitempty"`
	Provider     Provider `json:"provider"`
	ProviderID   string   `json:"provider_id,omitempty"`

	IsActive    bool `json:"is_active"`
	IsStaff     bool `json:"is_staff"`
	IsSuperuser bool `json:"is_superuser"`

	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	PhoneNumber string  `json:"phone_number,omitempty"`
	Avatar      string  `json:"avatar,omitempty"`
	Gender      Gender  `json:"gender,omitempty"`
	Bio         string  `json:"bio,omitempty"`
	Street      string  `json:"street,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     *int    `json:"zip_code,omitempty"`
	Country     string  `json:"country,omitempty"`
	TotalSpent  float64 `json:"total_spent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPassword returns true if the user can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// UserUpdate holds a partial update to a user's profile. Nil fields are
// left untouched.
type UserUpdate struct {
	Email       *string `json:"email"`
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	PhoneNumber *string `json:"phone_number"`
	Gender      *Gender `json:"gender"`
	Bio         *string `json:"bio"`
	Street      *string `json:"street"`
	City        *string `json:"city"`
	ZipCode     *int    `json:"zip_code"`
	Country     *string `json:"country"`
}

// Validate checks every present field, collecting all failures.
func (u *UserUpdate) Validate() error {
	fields := make(map[string]string)
	if u.Email != nil {
		if _, err := ParseEmail(*u.Email); err != nil {
			fields["email"] = "enter a valid email address"
		}
	}
	if u.FirstName != nil && len([]rune(*u.FirstName)) > maxNameLength {
		fields["first_name"] = "ensure this field has no more than 30 characters"
	}
	if u.LastName != nil && len([]rune(*u.LastName)) > maxNameLength {
		fields["last_name"] = "ensure this field has no more than 30 characters"
	}
	if u.PhoneNumber != nil && *u.PhoneNumber != "" && !PhoneNumberRegex.MatchString(*u.PhoneNumber) {
		fields["phone_number"] = "phone number must be entered in the format: '+8801XXXXXXXXX'"
	}
	if u.Gender != nil && !u.Gender.IsValid() {
		fields["gender"] = "gender must be one of male, female or other"
	}
	if u.ZipCode != nil && *u.ZipCode < 0 {
		fields["zip_code"] = "zip code must be a positive number"
	}
	if len(fields) > 0 {
		return ValidationFailed("invalid profile update", fields)
	}
	return nil
}

// Apply copies the present fields of update onto u.
func (u *User) Apply(update *UserUpdate) {
	if update.Email != nil {
		u.Email = NormalizeEmail(*update.Email)
	}
	if update.FirstName != nil {
		u.FirstName = strings.TrimSpace(*update.FirstName)
	}
	if update.LastName != nil {
		u.LastName = strings.TrimSpace(*update.LastName)
	}
	if update.PhoneNumber != nil {
		u.PhoneNumber = *update.PhoneNumber
	}
	if update.Gender != nil {
		u.Gender = *update.Gender
	}
	if update.Bio != nil {
		u.Bio = *update.Bio
	}
	if update.Street != nil {
		u.Street = *update.Street
	}
	if update.City != nil {
		u.City = *update.City
	}
	if update.ZipCode != nil {
		zip := *update.ZipCode
		u.ZipCode = &zip
	}
	if update.Country != nil {
		u.Country = *update.Country
	}
}

// NormalizeEmail trims the address and lower-cases its domain part.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

// EmailKey returns the case-insensitive lookup key for an email address.
// Uniqueness is enforced on this value.
func EmailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ParseEmail validates a bare email address (no display name) and returns
// its normalized form.
func ParseEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ValidationFailed("email is required", map[string]string{"email": "this field is required"})
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ValidationFailed("invalid email", map[string]string{"email": "enter a valid email address"})
	}
	return NormalizeEmail(addr.Address), nil
}
