package domain

// NetworkCandidate - один ICE кандидат, найденный стороной Owner
type NetworkCandidate struct {
	Owner      Role
	Mid        string
	MLineIndex int
	Candidate  string
}
