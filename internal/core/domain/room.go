package domain

import (
	"strings"
	"time"
)

type RoomID string
type UserID string
type ConnectionID string

type RoomStatus string

const (
	RoomWaiting RoomStatus = "WAITING"
	RoomActive  RoomStatus = "ACTIVE"
	RoomEnded   RoomStatus = "ENDED"
)

type ParticipantRole string

const (
	RoleBroadcaster ParticipantRole = "BROADCASTER"
	RoleViewer      ParticipantRole = "VIEWER"
)

func (r ParticipantRole) Valid() bool {
	return r == RoleBroadcaster || r == RoleViewer
}

type ConnectionState string

const (
	ConnNew          ConnectionState = "NEW"
	ConnConnecting   ConnectionState = "CONNECTING"
	ConnConnected    ConnectionState = "CONNECTED"
	ConnDisconnected ConnectionState = "DISCONNECTED"
	ConnFailed       ConnectionState = "FAILED"
	ConnClosed       ConnectionState = "CLOSED"
)

func (s ConnectionState) Valid() bool {
	switch s {
	case ConnNew, ConnConnecting, ConnConnected, ConnDisconnected, ConnFailed, ConnClosed:
		return true
	}
	return false
}

type Participant struct {
	UserID          UserID          `json:"userId"`
	Username        string          `json:"username"`
	Role            ParticipantRole `json:"role"`
	ConnectionID    ConnectionID    `json:"connectionId"`
	ConnectionState ConnectionState `json:"connectionState"`
	JoinedAt        time.Time       `json:"joinedAt"`
	LastActiveAt    time.Time       `json:"lastActiveAt"`
	DeviceInfo      string          `json:"deviceInfo,omitempty"`
	UserAgent       string          `json:"userAgent,omitempty"`
}

// Room is owned by the store; callers must not mutate it outside the
// store's per-room lock.
type Room struct {
	ID              RoomID                  `json:"id"`
	Name            string                  `json:"name"`
	Description     string                  `json:"description,omitempty"`
	Status          RoomStatus              `json:"status"`
	CreatorID       UserID                  `json:"creatorId"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
	MaxParticipants int                     `json:"maxParticipants"`
	IsPrivate       bool                    `json:"isPrivate"`
	Password        string                  `json:"-"`
	Tags            []string                `json:"tags,omitempty"`
	Participants    map[UserID]*Participant `json:"participants,omitempty"`
}

// CurrentParticipants is always derived from the participant map, never stored.
func (r *Room) CurrentParticipants() int {
	return len(r.Participants)
}

// Clone deep-copies the room so snapshots can be serialized after the
// room lock is released.
func (r *Room) Clone() *Room {
	cp := *r
	cp.Tags = append([]string(nil), r.Tags...)
	cp.Participants = make(map[UserID]*Participant, len(r.Participants))
	for id, p := range r.Participants {
		pc := *p
		cp.Participants[id] = &pc
	}
	return &cp
}

// RoomSummary is the listing/API view of a room.
type RoomSummary struct {
	ID                  RoomID     `json:"id"`
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	Status              RoomStatus `json:"status"`
	CreatorID           UserID     `json:"creatorId"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	MaxParticipants     int        `json:"maxParticipants"`
	CurrentParticipants int        `json:"currentParticipants"`
	IsPrivate           bool       `json:"isPrivate"`
	Tags                []string   `json:"tags,omitempty"`
}

func (r *Room) Summary() RoomSummary {
	return RoomSummary{
		ID:                  r.ID,
		Name:                r.Name,
		Description:         r.Description,
		Status:              r.Status,
		CreatorID:           r.CreatorID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		MaxParticipants:     r.MaxParticipants,
		CurrentParticipants: r.CurrentParticipants(),
		IsPrivate:           r.IsPrivate,
		Tags:                append([]string(nil), r.Tags...),
	}
}

// RoomSpec is the caller-supplied description of a room to create.
type RoomSpec struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	MaxParticipants int      `json:"maxParticipants,omitempty"`
	IsPrivate       bool     `json:"isPrivate,omitempty"`
	Password        string   `json:"password,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// JoinRequest carries everything joinRoom needs besides the room id.
type JoinRequest struct {
	UserID     UserID          `json:"userId"`
	Username   string          `json:"username"`
	Role       ParticipantRole `json:"role"`
	Password   string          `json:"password,omitempty"`
	DeviceInfo string          `json:"deviceInfo,omitempty"`
	UserAgent  string          `json:"userAgent,omitempty"`
}

// RoomFilter narrows listings. Zero values match everything.
type RoomFilter struct {
	Status         RoomStatus `json:"status,omitempty"`
	IncludePrivate bool       `json:"includePrivate,omitempty"`
	NameSearch     string     `json:"nameSearch,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
}

// Matches reports whether a room passes the filter. Name search is a
// case-insensitive substring match; tags require a non-empty intersection.
func (f RoomFilter) Matches(r *Room) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.IncludePrivate && r.IsPrivate {
		return false
	}
	if f.NameSearch != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(f.NameSearch)) {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range r.Tags {
				if want == have {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RoomPage is one offset-based page of room summaries.
type RoomPage struct {
	Rooms    []RoomSummary `json:"rooms"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
	HasNext  bool          `json:"hasNext"`
	HasPrev  bool          `json:"hasPrev"`
}
