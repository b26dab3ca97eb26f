// internal/core/entity.go
package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the logical entity family a payload belongs to.
// Replication data-type rules match on these values.
type Kind string

const (
	KindAvatar Kind = "Avatar"
	KindHolon  Kind = "Holon"
)

// Entity is the opaque payload contract the routing core moves between
// backends. The core never inspects payload fields beyond identity and kind.
type Entity interface {
	EntityID() uuid.UUID
	EntityKind() Kind
}

// Avatar is a user/identity record.
type Avatar struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	FirstName    string     `json:"firstName,omitempty"`
	LastName     string     `json:"lastName,omitempty"`
	CreatedDate  time.Time  `json:"createdDate"`
	ModifiedDate time.Time  `json:"modifiedDate"`
	DeletedDate  *time.Time `json:"deletedDate,omitempty"`
	Version      int        `json:"version"`
	IsActive     bool       `json:"isActive"`
}

func (a *Avatar) EntityID() uuid.UUID { return a.ID }
func (a *Avatar) EntityKind() Kind    { return KindAvatar }

// Holon is a generic typed node. Parent links form the holon graph; the
// core treats Meta as opaque.
type Holon struct {
	ID           uuid.UUID              `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	HolonType    string                 `json:"holonType"`
	ParentID     uuid.UUID              `json:"parentId,omitempty"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
	CreatedDate  time.Time              `json:"createdDate"`
	ModifiedDate time.Time              `json:"modifiedDate"`
	DeletedDate  *time.Time             `json:"deletedDate,omitempty"`
	Version      int                    `json:"version"`
}

func (h *Holon) EntityID() uuid.UUID { return h.ID }
func (h *Holon) EntityKind() Kind    { return KindHolon }

// envelope tags serialized payloads with their kind so heterogeneous
// backends can store avatars and holons in one keyspace.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalEntity serializes an entity with its kind tag.
func MarshalEntity(e Entity) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.EntityKind(), err)
	}
	return json.Marshal(envelope{Kind: e.EntityKind(), Payload: payload})
}

// UnmarshalEntity deserializes a kind-tagged payload back into the
// concrete entity type.
func UnmarshalEntity(data []byte) (Entity, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal entity envelope: %w", err)
	}

	switch env.Kind {
	case KindAvatar:
		var a Avatar
		if err := json.Unmarshal(env.Payload, &a); err != nil {
			return nil, fmt.Errorf("unmarshal avatar: %w", err)
		}
		return &a, nil
	case KindHolon:
		var h Holon
		if err := json.Unmarshal(env.Payload, &h); err != nil {
			return nil, fmt.Errorf("unmarshal holon: %w", err)
		}
		return &h, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", env.Kind)
	}
}

// SearchQuery narrows a search across whatever backend serves it.
type SearchQuery struct {
	Text      string `json:"text,omitempty"`
	Kind      Kind   `json:"kind,omitempty"`
	MetaKey   string `json:"metaKey,omitempty"`
	MetaValue string `json:"metaValue,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Matches reports whether an entity satisfies the query. Adapters without
// native query support filter scanned entities through this.
func (q SearchQuery) Matches(e Entity) bool {
	if q.Kind != "" && e.EntityKind() != q.Kind {
		return false
	}

	switch v := e.(type) {
	case *Avatar:
		if v.DeletedDate != nil {
			return false
		}
		if q.Text != "" && !containsFold(v.Username, q.Text) && !containsFold(v.Email, q.Text) &&
			!containsFold(v.FirstName, q.Text) && !containsFold(v.LastName, q.Text) {
			return false
		}
		if q.MetaKey != "" {
			return false
		}
	case *Holon:
		if v.DeletedDate != nil {
			return false
		}
		if q.Text != "" && !containsFold(v.Name, q.Text) && !containsFold(v.Description, q.Text) &&
			!containsFold(v.HolonType, q.Text) {
			return false
		}
		if q.MetaKey != "" {
			mv, ok := v.Meta[q.MetaKey]
			if !ok {
				return false
			}
			if q.MetaValue != "" && fmt.Sprintf("%v", mv) != q.MetaValue {
				return false
			}
		}
	default:
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// SearchResults carries the matched entities.
type SearchResults struct {
	Entities   []Entity `json:"entities"`
	NumResults int      `json:"numResults"`
}
