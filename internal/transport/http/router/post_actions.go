package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"postboard/internal/core/cache"
	"postboard/internal/domain"
	"postboard/internal/repo"
	httpez "postboard/internal/transport/http/ez"
)

const topPostTTL = 30 * time.Second

func topPostKey(topic string) string { return "posts:top:" + topic }

// mountPostActions registers the authenticated post surface: CRUD,
// lifecycle-filtered listings and the engagement operations.
func mountPostActions(posts *gin.RouterGroup, db *gorm.DB, c *cache.Cache) {
	ez := httpez.New(posts)

	httpez.Register[struct{}, []domain.Post](ez, db, httpez.Action[struct{}, []domain.Post]{
		Method: http.MethodGet,
		Path:   "",
		Binder: httpez.BindNone,
		Handler: func(g *gin.Context, tx *gorm.DB, _ *struct{}) ([]domain.Post, error) {
			all, err := repo.NewPostRepo(tx).List(g)
			if err != nil {
				return nil, httpez.Internal("list posts failed", err)
			}
			return all, nil
		},
	})

	httpez.Register[struct{}, *domain.Post](ez, db, httpez.Action[struct{}, *domain.Post]{
		Method: http.MethodGet,
		Path:   "/:id",
		Binder: httpez.BindNone,
		Handler: func(g *gin.Context, tx *gorm.DB, _ *struct{}) (*domain.Post, error) {
			id, err := paramID(g)
			if err != nil {
				return nil, err
			}
			p, err := repo.NewPostRepo(tx).FindByID(g, id)
			if err != nil {
				return nil, httpez.Internal("db error", err)
			}
			if p == nil {
				return nil, httpez.NotFound("post not found")
			}
			return p, nil
		},
	})

	httpez.Register[struct{}, []domain.Post](ez, db, httpez.Action[struct{}, []domain.Post]{
		Method: http.MethodGet,
		Path:   "/topic/:topic",
		Binder: httpez.BindNone,
		Handler: func(g *gin.Context, tx *gorm.DB, _ *struct{}) ([]domain.Post, error) {
			list, err := repo.NewPostRepo(tx).ListByTopic(g, g.Param("topic"))
			if err != nil {
				return nil, httpez.Internal("list posts by topic failed", err)
			}
			return list, nil
		},
	})

	// The source registered two handlers on /active/:topic: a live-post
	// listing and a most-liked lookup. The listing keeps the path; the
	// most-liked lookup lives under /active/:topic/top.
	httpez.Register[struct{}, []domain.Post](ez, db, httpez.Action[struct{}, []domain.Post]{
		Method: http.MethodGet,
		Path:   "/active/:topic",
		Binder: httpez.BindNone,
		Handler: func(g *gin.Context, tx *gorm.DB, _ *struct{}) ([]domain.Post, error) {
			topic := g.Param("topic")
			list, err := repo.NewPostRepo(tx).ListByLifecycle(g, topic, true)
			if err != nil {
				return nil, httpez.Internal("list active posts failed", err)
			}
			if len(list) == 0 {
				return nil, &httpez.Notice{
					Msg:  fmt.Sprintf("no active posts with the topic %s", topic),
					Data: []domain.Post{},
				}
			}
			return list, nil
		},
	})

	httpez.Register[struct{}, *domain.Post](ez, db, httpez.Action[struct{}, *domain.Post]{
		Method: http.MethodGet,
		Path:   "/active/:topic/top",
		Binder: httpez.BindNone,
		Handler: func(g *gin.Context, tx *gorm.DB, _ *struct{}) (*domain.Post, error) {
			topic := g.Param("topic")
			var p *domain.Post
			var err error
			if c != nil {
				p, err = cache.GetOrLoadJSON[domain.Post](c, g, topPostKey(topic), topPostTTL, func(ctx context.Context) (*domain.Post, error) {
					return repo.NewPostRepo(tx).TopActiveByTopic(ctx, topic)
				})
			} else {
				p, err = repo.NewPostRepo(tx).TopActiveByTopic(g, topic)
			}
			if err != nil {
				return nil, httpez.Internal("top post lookup failed", err)
			}
			if p == nil {
				return nil, httpez.NotFound("post not found")
			}
			return p, nil
		},
	})

	httpez.Register[struct{}, []domain.Post](ez, db, httpez.Action[struct{}, []domain.Post]{
		Method: http.MethodGet,
		Path:   "/expired/:topic",
		Binder: httpez.BindNone,
		Handler: func(g *gin.Context, tx *gorm.DB, _ *struct{}) ([]domain.Post, error) {
			topic := g.Param("topic")
			list, err := repo.NewPostRepo(tx).ListByLifecycle(g, topic, false)
			if err != nil {
				return nil, httpez.Internal("list expired posts failed", err)
			}
			if len(list) == 0 {
				return nil, &httpez.Notice{
					Msg:  fmt.Sprintf("no expired posts with the topic %s", topic),
					Data: []domain.Post{},
				}
			}
			return list, nil
		},
	})

	type engageIn struct {
		ID      uint   `json:"id" binding:"required"`
		Like    bool   `json:"like"`
		Dislike bool   `json:"dislike"`
		Comment string `json:"comment"`
	}
	httpez.Register[engageIn, *domain.Post](ez, db, httpez.Action[engageIn, *domain.Post]{
		Method: http.MethodPut,
		Path:   "/operations",
		Binder: httpez.BindJSON,
		Handler: func(g *gin.Context, tx *gorm.DB, in *engageIn) (*domain.Post, error) {
			p, err := repo.NewPostRepo(tx).RecordInteraction(g, in.ID, domain.Interaction{
				Like:    in.Like,
				Dislike: in.Dislike,
				Comment: in.Comment,
			})
			if errors.Is(err, domain.ErrPostInactive) {
				return nil, &httpez.Notice{
					Msg:  "this post is not active anymore and can not accept any interactions",
					Data: p,
				}
			}
			if err != nil {
				return nil, httpez.Internal("record interaction failed", err)
			}
			if p == nil {
				return nil, httpez.NotFound(fmt.Sprintf("no post with id: %d", in.ID))
			}
			invalidateTop(g, c, p.Topic)
			return p, nil
		},
	})

	httpez.Register[map[string]any, *domain.Post](ez, db, httpez.Action[map[string]any, *domain.Post]{
		Method: http.MethodPut,
		Path:   "/:id",
		Binder: httpez.BindJSON,
		Handler: func(g *gin.Context, tx *gorm.DB, in *map[string]any) (*domain.Post, error) {
			id, err := paramID(g)
			if err != nil {
				return nil, err
			}
			pr := repo.NewPostRepo(tx)
			// A topic move strands the old topic's cached top post, so
			// remember the current topic before updating.
			var oldTopic string
			if _, moved := (*in)["topic"]; moved && c != nil {
				if prev, perr := pr.FindByID(g, id); perr == nil && prev != nil {
					oldTopic = prev.Topic
				}
			}
			p, err := pr.PartialUpdate(g, id, *in)
			var unknown *repo.UnknownFieldError
			switch {
			case errors.Is(err, repo.ErrNothingToUpdate):
				return nil, httpez.BadRequest("nothing to update")
			case errors.As(err, &unknown):
				return nil, httpez.BadRequest(unknown.Error())
			case errors.Is(err, repo.ErrInvalidTopic):
				return nil, httpez.BadRequest(err.Error())
			case err != nil:
				return nil, httpez.Internal("partial update failed", err)
			case p == nil:
				return nil, httpez.NotFound(fmt.Sprintf("could not find post with id %d", id))
			}
			if oldTopic != "" && oldTopic != p.Topic {
				invalidateTop(g, c, oldTopic)
			}
			invalidateTop(g, c, p.Topic)
			return p, nil
		},
	})

	type createIn struct {
		Title   string `json:"title" binding:"required,min=3,max=12"`
		Topic   string `json:"topic" binding:"required,oneof=politics health sport tech social"`
		Message string `json:"message" binding:"required,min=10,max=150"`
		OwnerID uint   `json:"ownerId" binding:"required"`
		Expiry  string `json:"expiry" binding:"required"`
	}
	httpez.Register[createIn, *domain.Post](ez, db, httpez.Action[createIn, *domain.Post]{
		Method: http.MethodPost,
		Path:   "",
		Binder: httpez.BindJSON,
		Handler: func(g *gin.Context, tx *gorm.DB, in *createIn) (*domain.Post, error) {
			p := &domain.Post{
				Title:   in.Title,
				Topic:   in.Topic,
				Message: in.Message,
				// Date-only stamp; the creation time carries no clock part.
				Timestamp: time.Now().Format("2006-01-02"),
				OwnerID:   in.OwnerID,
				Expiry:    in.Expiry,
				Live:      true,
				Comments:  domain.Comments{},
			}
			if err := repo.NewPostRepo(tx).Create(g, p); err != nil {
				return nil, httpez.Internal("create post failed", err)
			}
			invalidateTop(g, c, p.Topic)
			return p, nil
		},
	})

	httpez.Register[struct{}, gin.H](ez, db, httpez.Action[struct{}, gin.H]{
		Method: http.MethodDelete,
		Path:   "/:id",
		Binder: httpez.BindNone,
		Handler: func(g *gin.Context, tx *gorm.DB, _ *struct{}) (gin.H, error) {
			id, err := paramID(g)
			if err != nil {
				return nil, err
			}
			pr := repo.NewPostRepo(tx)
			// Fetch first: after the delete there is no row left to tell
			// which topic's cached top post to drop.
			prev, err := pr.FindByID(g, id)
			if err != nil {
				return nil, httpez.Internal("db error", err)
			}
			n, err := pr.Delete(g, id)
			if err != nil {
				return nil, httpez.Internal("delete post failed", err)
			}
			if n == 0 {
				return nil, &httpez.Notice{
					Msg:  fmt.Sprintf("no post with id %d was found", id),
					Data: gin.H{"deleted": 0},
				}
			}
			if prev != nil {
				invalidateTop(g, c, prev.Topic)
			}
			return gin.H{"id": id, "deleted": n}, nil
		},
	})
}

func paramID(g *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(g.Param("id"), 10, 32)
	if err != nil {
		return 0, httpez.BadRequest("invalid post id")
	}
	return uint(id), nil
}

func invalidateTop(g *gin.Context, c *cache.Cache, topic string) {
	if c != nil {
		c.Invalidate(g, topPostKey(topic))
	}
}
