package model

const (
	UnknownUser   = "Unknown user"
	UnknownEmail  = "Unknown email"
	DefaultAvatar = "/images/default-avatar.png"
)

// DisplayProfile is the projection of a user shown next to requests,
// inboxes and group members.
type DisplayProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Email    string `json:"email"`
	IsSystem bool   `json:"isSystem"`
}

type accessor func(u *User) string

// Fields are tried in order; the first non-empty value wins.
var (
	nameChain = []accessor{
		func(u *User) string { return u.Name },
		func(u *User) string { return u.GoogleName },
		func(u *User) string { return u.Username },
		func(u *User) string { return u.GoogleEmail },
		func(u *User) string { return u.Email },
	}
	avatarChain = []accessor{
		func(u *User) string { return u.Avatar },
		func(u *User) string { return u.GooglePicture },
	}
	emailChain = []accessor{
		func(u *User) string { return u.GoogleEmail },
		func(u *User) string { return u.Email },
	}
)

func first(u *User, chain []accessor, fallback string) string {
	if u == nil {
		return fallback
	}
	for _, get := range chain {
		if v := get(u); v != "" {
			return v
		}
	}
	return fallback
}

// Profile builds the display projection. A nil user yields the placeholder
// profile for id.
func Profile(id string, u *User) DisplayProfile {
	p := DisplayProfile{
		ID:     id,
		Name:   first(u, nameChain, UnknownUser),
		Avatar: first(u, avatarChain, DefaultAvatar),
		Email:  first(u, emailChain, UnknownEmail),
	}
	if u != nil {
		p.Username = u.Username
		p.IsSystem = u.IsSystem
	}
	return p
}
