package types

import "time"

// Room is a logical collaboration space. The host is always a member; the
// member set only grows via explicit AddMember calls, there is no automatic
// removal.
type Room struct {
	Id        string    `json:"roomId"`
	HostId    string    `json:"hostUserId"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether userId is in the member set.
func (r *Room) HasMember(userId string) bool {
	for _, m := range r.Members {
		if m == userId {
			return true
		}
	}
	return false
}

// CodeMapping is the value stored behind a human-shareable room code. The code
// and the room carry independent TTLs, so a mapping may outlive its room.
type CodeMapping struct {
	RoomId string `json:"roomId"`
	HostId string `json:"hostUserId"`
}
