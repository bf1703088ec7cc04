package core

// Room groups connections subscribed to the same id. Two flavors share the
// type: identity rooms (id == user id, every connection of that user) and
// conversation rooms (id == chat id, explicit join/leave membership).
type Room struct {
	ID      string
	clients map[*Client]struct{}
}

// newRoom constructs a room with no connections.
func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		clients: make(map[*Client]struct{}),
	}
}

func (r *Room) add(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

func (r *Room) remove(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

func (r *Room) contains(c *Client) bool {
	_, exists := r.clients[c]
	return exists
}

func (r *Room) empty() bool {
	return len(r.clients) == 0
}

// broadcast sends an event to every connection in the room except the one
// with the excluded id. Pass "" to deliver to all members. Delivery is
// best-effort per connection.
func (r *Room) broadcast(ev *Event, excludeConnID string) (delivered, dropped int) {
	for client := range r.clients {
		if client.ID == excludeConnID {
			continue
		}
		if client.send(ev) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// otherIdentities collects the user ids of members other than the given
// connection. Used to address peer notifications at identity rooms so every
// device of each peer hears about membership changes.
func (r *Room) otherIdentities(except *Client) []string {
	seen := make(map[string]struct{}, len(r.clients))
	ids := make([]string, 0, len(r.clients))
	for client := range r.clients {
		if client == except {
			continue
		}
		if _, dup := seen[client.UserID]; dup {
			continue
		}
		seen[client.UserID] = struct{}{}
		ids = append(ids, client.UserID)
	}
	return ids
}
