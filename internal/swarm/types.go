package swarm

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a swarm.
type Status string

const (
	StatusRecruiting Status = "recruiting"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus converts a stored or user-supplied value into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown swarm status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusRecruiting, StatusActive, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusRecruiting, StatusActive:
		return false
	default:
		panic(fmt.Sprintf("swarm: unhandled status %q", string(s)))
	}
}

// CanTransition reports whether a swarm may move from s to next. Status only
// moves forward: recruiting -> active -> completed, and failed is reachable
// from any non-terminal state.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusRecruiting:
		return next == StatusActive || next == StatusFailed
	case StatusActive:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	default:
		panic(fmt.Sprintf("swarm: unhandled status %q", string(s)))
	}
}

// MemberStatus is the lifecycle state of one membership.
type MemberStatus string

const (
	MemberPending   MemberStatus = "pending"
	MemberAccepted  MemberStatus = "accepted"
	MemberCompleted MemberStatus = "completed"
	MemberFailed    MemberStatus = "failed"
)

func ParseMemberStatus(s string) (MemberStatus, error) {
	st := MemberStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown membership status %q", s)
	}
	return st, nil
}

func (s MemberStatus) Valid() bool {
	switch s {
	case MemberPending, MemberAccepted, MemberCompleted, MemberFailed:
		return true
	default:
		return false
	}
}

func (s MemberStatus) Terminal() bool {
	switch s {
	case MemberCompleted, MemberFailed:
		return true
	case MemberPending, MemberAccepted:
		return false
	default:
		panic(fmt.Sprintf("swarm: unhandled membership status %q", string(s)))
	}
}

// CanTransition covers pending -> accepted -> completed, with failed
// reachable from pending and accepted. Invite resets are handled separately
// by ResetMembership and never pass through here.
func (s MemberStatus) CanTransition(next MemberStatus) bool {
	switch s {
	case MemberPending:
		return next == MemberAccepted || next == MemberFailed
	case MemberAccepted:
		// accepted -> accepted keeps creator re-acceptance idempotent.
		return next == MemberAccepted || next == MemberCompleted || next == MemberFailed
	case MemberCompleted, MemberFailed:
		return false
	default:
		panic(fmt.Sprintf("swarm: unhandled membership status %q", string(s)))
	}
}

// Role is an agent's position within a swarm.
type Role string

const (
	RoleCreator Role = "creator"
	RoleMember  Role = "member"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCreator, RoleMember:
		return r, nil
	default:
		return "", fmt.Errorf("unknown membership role %q", s)
	}
}

type Agent struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Skills          []string  `json:"skills"`
	Reputation      int       `json:"reputation"`
	CompletedSwarms int       `json:"completed_swarms"`
	FailedSwarms    int       `json:"failed_swarms"`
	Available       bool      `json:"available"`
	Rate            string    `json:"rate,omitempty"`
	KeyHash         string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	LastActive      time.Time `json:"last_active"`
}

type Swarm struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	CreatorID      string     `json:"creator_id"`
	Status         Status     `json:"status"`
	RequiredSkills []string   `json:"required_skills"`
	MaxMembers     int        `json:"max_members"`
	PaymentTotal   int64      `json:"payment_total"`
	Deliverable    string     `json:"deliverable,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type Membership struct {
	SwarmID      string       `json:"swarm_id"`
	AgentID      string       `json:"agent_id"`
	Role         Role         `json:"role"`
	SharePercent int          `json:"share_percent"`
	Status       MemberStatus `json:"status"`
	JoinedAt     time.Time    `json:"joined_at"`
}

type Review struct {
	ID         string    `json:"id"`
	ReviewerID string    `json:"reviewer_id"`
	RevieweeID string    `json:"reviewee_id"`
	SwarmID    string    `json:"swarm_id,omitempty"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

// MemberView is a membership joined with the member's public agent fields.
type MemberView struct {
	AgentID      string       `json:"id"`
	Name         string       `json:"name"`
	Reputation   int          `json:"reputation"`
	Role         Role         `json:"role"`
	SharePercent int          `json:"share_percent"`
	Status       MemberStatus `json:"status"`
}

// SwarmSummary is a listing row.
type SwarmSummary struct {
	Swarm
	CreatorName string `json:"creator_name"`
	MemberCount int    `json:"member_count"`
}

// SwarmDetail is a swarm with its full member list.
type SwarmDetail struct {
	Swarm       Swarm        `json:"swarm"`
	CreatorName string       `json:"creator_name"`
	Members     []MemberView `json:"members"`
}

// Invite is a pending membership seen from the invited agent's side.
type Invite struct {
	SwarmID      string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	SharePercent int    `json:"share_percent"`
}

// ReviewView is a review as shown on the reviewee's profile.
type ReviewView struct {
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"created_at"`
	ReviewerName string    `json:"reviewer_name"`
}
