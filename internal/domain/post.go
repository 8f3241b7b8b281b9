package domain

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Topics is the closed set of post topics accepted by the service.
var Topics = []string{"politics", "health", "sport", "tech", "social"}

func ValidTopic(t string) bool {
	t = strings.ToLower(t)
	for _, v := range Topics {
		if t == v {
			return true
		}
	}
	return false
}

// ErrPostInactive signals an engagement attempt on an expired post. The
// caller gets the unchanged row back together with this error; it is an
// informational condition, not a failure status.
var ErrPostInactive = errors.New("post is not active")

// Comments is stored as a JSON array in a text column so the same model
// works across postgres, mysql and sqlite.
type Comments []string

func (c Comments) Value() (driver.Value, error) {
	if c == nil {
		c = Comments{}
	}
	b, err := json.Marshal(c)
	return string(b), err
}

func (c *Comments) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = Comments{}
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("comments: unsupported scan type %T", src)
	}
}

type Post struct {
	ID        uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	Title     string   `gorm:"size:12;not null" json:"title"`
	Topic     string   `gorm:"size:16;index;not null" json:"topic"`
	Message   string   `gorm:"size:150;not null" json:"message"`
	Timestamp string   `gorm:"size:10;not null" json:"timestamp"`
	OwnerID   uint     `gorm:"column:ownerid;index;not null" json:"ownerId"`
	Expiry    string   `gorm:"size:32" json:"expiry"`
	Live      bool     `gorm:"not null;default:true" json:"live"`
	Likes     int      `gorm:"not null;default:0" json:"likes"`
	Dislikes  int      `gorm:"not null;default:0" json:"dislikes"`
	Comments  Comments `gorm:"type:text" json:"comments"`
}

func (Post) TableName() string { return "posts" }

// Interaction is one engagement request against a live post. Like and
// dislike are independent flags; both may be set in a single call.
type Interaction struct {
	Like    bool
	Dislike bool
	Comment string
}

type PostRepository interface {
	Create(ctx context.Context, p *Post) error
	FindByID(ctx context.Context, id uint) (*Post, error)
	List(ctx context.Context) ([]Post, error)
	ListByTopic(ctx context.Context, topic string) ([]Post, error)
	ListByLifecycle(ctx context.Context, topic string, live bool) ([]Post, error)
	TopActiveByTopic(ctx context.Context, topic string) (*Post, error)
	RecordInteraction(ctx context.Context, id uint, in Interaction) (*Post, error)
	PartialUpdate(ctx context.Context, id uint, fields map[string]any) (*Post, error)
	Delete(ctx context.Context, id uint) (int64, error)
}
