package model

import "time"

// User is a registered account. Optional profile fields are pointers so the
// repository can distinguish "absent" from "empty" and keep the partial
// unique indexes on username and phone meaningful.
type User struct {
	ID           string
	Email        string
	Username     *string
	PasswordHash string
	FirstName    *string
	LastName     *string
	MiddleName   *string
	Phone        *string
	Country      *string
	University   *string
	Speciality   *string
	IsActive     bool
	IsStaff      bool
	IsSuperuser  bool
	DateJoined   time.Time
	UpdatedAt    time.Time
}

type Group struct {
	ID   string
	Name string
}
