package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"postboard/internal/domain"
)

// updatableColumns is the closed set of post fields a partial update may
// touch. Counter and comment mutations go through RecordInteraction only;
// id, ownerid and timestamp are immutable.
var updatableColumns = map[string]string{
	"title":   "title",
	"topic":   "topic",
	"message": "message",
	"expiry":  "expiry",
	"live":    "live",
}

var (
	ErrNothingToUpdate = errors.New("nothing to update")
	ErrInvalidTopic    = errors.New("invalid topic")
)

type UnknownFieldError struct{ Field string }

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Field)
}

type PostRepo struct{ db *gorm.DB }

func NewPostRepo(db *gorm.DB) *PostRepo { return &PostRepo{db: db} }

func (r *PostRepo) Create(ctx context.Context, p *domain.Post) error {
	if p.Comments == nil {
		p.Comments = domain.Comments{}
	}
	p.Topic = strings.ToLower(p.Topic)
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PostRepo) FindByID(ctx context.Context, id uint) (*domain.Post, error) {
	var p domain.Post
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &p, err
}

func (r *PostRepo) List(ctx context.Context) ([]domain.Post, error) {
	var posts []domain.Post
	err := r.db.WithContext(ctx).Order("id").Find(&posts).Error
	return posts, err
}

func (r *PostRepo) ListByTopic(ctx context.Context, topic string) ([]domain.Post, error) {
	var posts []domain.Post
	err := r.db.WithContext(ctx).
		Where("topic = ?", strings.ToLower(topic)).
		Order("id").
		Find(&posts).Error
	return posts, err
}

func (r *PostRepo) ListByLifecycle(ctx context.Context, topic string, live bool) ([]domain.Post, error) {
	var posts []domain.Post
	err := r.db.WithContext(ctx).
		Where("topic = ? AND live = ?", strings.ToLower(topic), live).
		Order("id").
		Find(&posts).Error
	return posts, err
}

// TopActiveByTopic returns the live post with the most likes in a topic.
// Ties resolve to the lowest id, which matches natural scan order.
func (r *PostRepo) TopActiveByTopic(ctx context.Context, topic string) (*domain.Post, error) {
	var p domain.Post
	err := r.db.WithContext(ctx).
		Where("topic = ? AND live = ?", strings.ToLower(topic), true).
		Order("likes DESC, id").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &p, err
}

// RecordInteraction applies one engagement call to a live post. Counter
// increments run server-side (likes = likes + n) so concurrent calls
// cannot lose updates; the comment append shares the same transaction.
// An expired post returns the unchanged row with domain.ErrPostInactive.
// A call with no flags still rewrites the row, matching the contract that
// a flagless interaction is a no-op write rather than a rejection.
func (r *PostRepo) RecordInteraction(ctx context.Context, id uint, in domain.Interaction) (*domain.Post, error) {
	var out *domain.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p domain.Post
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return err
		}
		if !p.Live {
			out = &p
			return domain.ErrPostInactive
		}

		comments := p.Comments
		if in.Comment != "" {
			comments = append(comments, in.Comment)
		}
		updates := map[string]any{
			"likes":    gorm.Expr("likes + ?", boolToInt(in.Like)),
			"dislikes": gorm.Expr("dislikes + ?", boolToInt(in.Dislike)),
			"comments": comments,
		}
		if err := tx.Model(&domain.Post{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}

		var updated domain.Post
		if err := tx.First(&updated, "id = ?", id).Error; err != nil {
			return err
		}
		out = &updated
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errors.Is(err, domain.ErrPostInactive) {
		return out, domain.ErrPostInactive
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PartialUpdate mutates only the allow-listed columns named in fields.
// Unknown keys are rejected before any SQL is built.
func (r *PostRepo) PartialUpdate(ctx context.Context, id uint, fields map[string]any) (*domain.Post, error) {
	if len(fields) == 0 {
		return nil, ErrNothingToUpdate
	}
	updates := make(map[string]any, len(fields))
	for k, v := range fields {
		col, ok := updatableColumns[strings.ToLower(k)]
		if !ok {
			return nil, &UnknownFieldError{Field: k}
		}
		if col == "topic" {
			s, ok := v.(string)
			if !ok || !domain.ValidTopic(s) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidTopic, v)
			}
			v = strings.ToLower(s)
		}
		updates[col] = v
	}

	var out *domain.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p domain.Post
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.Post{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		var updated domain.Post
		if err := tx.First(&updated, "id = ?", id).Error; err != nil {
			return err
		}
		out = &updated
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a post and reports how many rows went away. Zero means
// the post was already gone, which callers surface as a message rather
// than an error.
func (r *PostRepo) Delete(ctx context.Context, id uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Post{})
	return res.RowsAffected, res.Error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
