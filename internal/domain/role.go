package domain

import "fmt"

// Role - роль участника в переговорах, выбирается один раз при подключении
type Role string

const (
	RoleHost  Role = "HOST"
	RoleGuest Role = "GUEST"
)

func (r Role) String() string { return string(r) }

// ParseRole разбирает роль из строки (регистр не важен для host/guest)
func ParseRole(s string) (Role, error) {
	switch s {
	case "HOST", "host":
		return RoleHost, nil
	case "GUEST", "guest":
		return RoleGuest, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// SideKey возвращает ключ стороны, под которым роль пишет свои кандидаты.
// Хост владеет стороной OFFER, гость - стороной ANSWER.
func (r Role) SideKey() string {
	if r == RoleHost {
		return KeyOffer
	}
	return KeyAnswer
}

// RemoteSideKey - ключ стороны собеседника
func (r Role) RemoteSideKey() string {
	if r == RoleHost {
		return KeyAnswer
	}
	return KeyOffer
}

// RoleForSide - обратное к SideKey
func RoleForSide(key string) (Role, bool) {
	switch key {
	case KeyOffer:
		return RoleHost, true
	case KeyAnswer:
		return RoleGuest, true
	default:
		return "", false
	}
}

// RemoteDescriptionKind - тип SDP, который роль принимает от собеседника
func (r Role) RemoteDescriptionKind() DescriptionKind {
	if r == RoleHost {
		return DescriptionAnswer
	}
	return DescriptionOffer
}

// LocalDescriptionKind - тип SDP, который роль создаёт сама
func (r Role) LocalDescriptionKind() DescriptionKind {
	if r == RoleHost {
		return DescriptionOffer
	}
	return DescriptionAnswer
}
