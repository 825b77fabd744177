package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/domain"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room  *domain.Room
	mu    sync.RWMutex
	byCID map[ClientID]MemberSession
	order []ClientID
}

func NewRoomService(room *domain.Room) RoomService {
	if room.Capacity <= 0 {
		room.Capacity = domain.RoomCapacity
	}
	return &roomImpl{
		room:  room,
		byCID: make(map[ClientID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCID)
}

func (r *roomImpl) AddMember(cid ClientID, ms MemberSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCID[cid]; ok {
		r.byCID[cid] = ms
		return nil
	}
	if len(r.byCID) >= r.room.Capacity {
		return domain.ErrRoomFull
	}
	r.byCID[cid] = ms
	r.order = append(r.order, cid)
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("cid", string(cid)).Msg("member added")
	return nil
}

func (r *roomImpl) RemoveMember(cid ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCID[cid]; !ok {
		return
	}
	delete(r.byCID, cid)
	for i, c := range r.order {
		if c == cid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("cid", string(cid)).Msg("member removed")
}

func (r *roomImpl) Broadcast(from ClientID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for _, cid := range r.order {
		if cid == from {
			continue
		}
		if err := r.byCID[cid].Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// MembersSnapshot lists members in join order.
func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.order))
	for _, cid := range r.order {
		u := r.byCID[cid].Meta().User
		out = append(out, MemberDTO{ID: u.ID, Username: u.Username})
	}
	return out
}
