package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"postboard/internal/core/auth"
	"postboard/internal/domain"
	"postboard/internal/repo"
	httpez "postboard/internal/transport/http/ez"
	mdw "postboard/internal/transport/http/middleware"
	"postboard/pkg/utils"
)

type userOut struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// mountUserActions registers the public registration and login routes.
func mountUserActions(grp *gin.RouterGroup, db *gorm.DB, jwter *auth.JWTer) {
	ez := httpez.New(grp)

	type registerIn struct {
		Username string `json:"username" binding:"required,min=4,max=15"`
		Password string `json:"password" binding:"required,min=6,max=1024"`
		Name     string `json:"name" binding:"omitempty,max=64"`
	}
	httpez.Register[registerIn, userOut](ez, db, httpez.Action[registerIn, userOut]{
		Method: http.MethodPost,
		Path:   "/register",
		Binder: httpez.BindJSON,
		Handler: func(c *gin.Context, tx *gorm.DB, in *registerIn) (userOut, error) {
			users := repo.NewUserRepo(tx)

			existing, err := users.FindByUsername(in.Username)
			if err != nil {
				return userOut{}, httpez.Internal("db error", err)
			}
			if existing != nil {
				return userOut{}, httpez.Conflict("this username is taken")
			}

			digest, err := utils.HashPassword(in.Password)
			if err != nil {
				return userOut{}, httpez.Internal("hash password failed", err)
			}
			u := &domain.User{Username: in.Username, PasswordHash: digest, Name: in.Name}
			if err := users.Create(u); err != nil {
				// Two registrations can race past the existence check; the
				// unique index decides and we report the same conflict.
				if repo.IsDupKey(err) {
					return userOut{}, httpez.Conflict("this username is taken")
				}
				return userOut{}, httpez.Internal("create user failed", err)
			}
			return userOut{ID: u.ID, Username: u.Username, Name: u.Name}, nil
		},
	})

	type loginIn struct {
		Username string `json:"username" binding:"required,min=4,max=15"`
		Password string `json:"password" binding:"required,min=6,max=1024"`
	}
	type loginOut struct {
		Token string `json:"auth-token"`
	}
	httpez.Register[loginIn, loginOut](ez, db, httpez.Action[loginIn, loginOut]{
		Method: http.MethodPost,
		Path:   "/login",
		Binder: httpez.BindJSON,
		Handler: func(c *gin.Context, tx *gorm.DB, in *loginIn) (loginOut, error) {
			users := repo.NewUserRepo(tx)

			u, err := users.FindByUsername(in.Username)
			if err != nil {
				return loginOut{}, httpez.Internal("db error", err)
			}
			if u == nil {
				return loginOut{}, httpez.NotFound(fmt.Sprintf("there is no such user with the username: %s", in.Username))
			}

			ok, err := utils.CheckPassword(in.Password, u.PasswordHash)
			if err != nil {
				return loginOut{}, httpez.Internal("verify password failed", err)
			}
			if !ok {
				return loginOut{}, httpez.BadRequest("invalid password")
			}

			tok, err := jwter.Issue(u.ID)
			if err != nil {
				return loginOut{}, httpez.Internal("issue token failed", err)
			}
			// The token rides both the response header and the body.
			c.Header(mdw.TokenHeader, tok)
			return loginOut{Token: tok}, nil
		},
	})
}
