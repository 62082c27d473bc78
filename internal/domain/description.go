package domain

// DescriptionKind - тип SDP
type DescriptionKind string

const (
	DescriptionOffer  DescriptionKind = "OFFER"
	DescriptionAnswer DescriptionKind = "ANSWER"
)

// SessionDescription - SDP offer или answer. После создания не меняется.
type SessionDescription struct {
	Kind DescriptionKind
	SDP  string
}

// Key - ключ документа в категории sdp
func (d SessionDescription) Key() string {
	return string(d.Kind)
}
