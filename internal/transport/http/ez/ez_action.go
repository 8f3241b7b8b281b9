package ez

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	resp "postboard/internal/transport/http/response"
)

type EZ struct{ g *gin.RouterGroup }

func New(g *gin.RouterGroup) EZ { return EZ{g: g} }

// Binder selects how the request is mapped onto the action input.
type Binder string

const (
	BindJSON  Binder = "json"
	BindQuery Binder = "query"
	BindNone  Binder = "none" // read c.Param / headers yourself
)

// AErr is the error taxonomy surfaced to callers. Code doubles as the
// HTTP status; Err is kept for logs and never written to the wire.
type AErr struct {
	Code int
	Msg  string
	Err  error
}

func (e *AErr) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "action error"
}

func (e *AErr) Unwrap() error { return e.Err }

func BadRequest(msg string) error   { return &AErr{Code: resp.CodeBadRequest, Msg: msg} }
func Unauthorized(msg string) error { return &AErr{Code: resp.CodeUnauthorized, Msg: msg} }
func NotFound(msg string) error     { return &AErr{Code: resp.CodeNotFound, Msg: msg} }
func Conflict(msg string) error     { return &AErr{Code: resp.CodeConflict, Msg: msg} }
func Internal(msg string, err error) error {
	return &AErr{Code: resp.CodeServerError, Msg: msg, Err: err}
}

// Notice marks a handled condition reported as a 200 with a message and
// the current resource state, not as an error status.
type Notice struct {
	Msg  string
	Data any
}

func (n *Notice) Error() string { return n.Msg }

// Action is one route: I binds the input, O is the success payload.
type Action[I any, O any] struct {
	Method  string
	Path    string
	Binder  Binder
	UseTx   bool // wrap Handler in a gorm transaction
	Handler func(c *gin.Context, db *gorm.DB, in *I) (O, error)
}

// Register mounts the action and gives every route the same binding,
// transaction and error-mapping behavior.
func Register[I any, O any](e EZ, db *gorm.DB, a Action[I, O]) {
	h := func(c *gin.Context) {
		var in I
		var bindErr error
		switch a.Binder {
		case BindJSON:
			bindErr = c.ShouldBindJSON(&in)
		case BindQuery:
			bindErr = c.ShouldBindQuery(&in)
		}
		if bindErr != nil {
			c.JSON(http.StatusBadRequest, resp.Error(resp.CodeBadRequest, bindErr.Error()))
			return
		}

		run := func(tx *gorm.DB) (O, error) { return a.Handler(c, tx, &in) }
		var out O
		var err error
		if a.UseTx {
			err = db.WithContext(c).Transaction(func(tx *gorm.DB) error {
				o, e := run(tx)
				out = o
				return e
			})
		} else {
			out, err = run(db.WithContext(c))
		}

		if err != nil {
			var notice *Notice
			if errors.As(err, &notice) {
				c.JSON(http.StatusOK, resp.OKMsg(notice.Msg, notice.Data))
				return
			}
			var ae *AErr
			if errors.As(err, &ae) {
				c.JSON(resp.HTTPStatus(ae.Code), resp.Error(ae.Code, ae.Error()))
				return
			}
			c.JSON(http.StatusInternalServerError, resp.Error(resp.CodeServerError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, resp.OK(out))
	}

	switch strings.ToUpper(a.Method) {
	case http.MethodGet:
		e.g.GET(a.Path, h)
	case http.MethodPut:
		e.g.PUT(a.Path, h)
	case http.MethodDelete:
		e.g.DELETE(a.Path, h)
	default:
		e.g.POST(a.Path, h)
	}
}
