package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/quizduel/internal/domain"
	"github.com/victornm/quizduel/internal/errors"
	"github.com/victornm/quizduel/internal/event"
	"github.com/victornm/quizduel/internal/journal"
)

type Config struct {
	Router   gin.IRouter
	EventBus *event.Bus
	Machine  Machine
	Journal  Journal
}

type Machine interface {
	View() domain.View
	Search(ctx context.Context, subjectID string) error
	Answer(ctx context.Context, option int) error
	Reset(ctx context.Context) error
	Leave(ctx context.Context) error
	DismissBanner(ctx context.Context) error
}

type Journal interface {
	Battle(ctx context.Context, battleID string) (*journal.Battle, error)
}

type API struct {
	m   Machine
	j   Journal
	hub *Hub
}

type (
	SearchRequest struct {
		SubjectID string `json:"subject_id" binding:"required"`
	}

	AnswerRequest struct {
		Option *int `json:"option" binding:"required"`
	}
)

func New(c Config) *API {
	a := &API{
		m:   c.Machine,
		j:   c.Journal,
		hub: NewHub(),
	}

	v1 := c.Router.Group("/v1")
	v1.GET("/battle", a.GetBattle)
	v1.POST("/battle", a.Search)
	v1.POST("/battle/answer", a.Answer)
	v1.POST("/battle/reset", a.Reset)
	v1.POST("/battle/leave", a.Leave)
	v1.POST("/battle/banner/dismiss", a.DismissBanner)
	v1.GET("/battle/ws", a.Watch)
	v1.GET("/battles/:id/answers", a.GetAnswers)

	// Register event handlers
	c.EventBus.SubscribeOrdered(func(ctx context.Context, e event.Event) error {
		a.hub.Broadcast(ctx, e.(domain.EventViewUpdated).View)
		return nil
	}, domain.EventNameViewUpdated)

	return a
}

// Close disconnects every watcher.
func (a *API) Close() {
	a.hub.Close()
}

func (a *API) GetBattle(c *gin.Context) {
	c.JSON(http.StatusOK, a.m.View())
}

func (a *API) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err)))
		return
	}

	if err := a.m.Search(c.Request.Context(), req.SubjectID); err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, a.m.View())
}

func (a *API) Answer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err)))
		return
	}

	if err := a.m.Answer(c.Request.Context(), *req.Option); err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, a.m.View())
}

func (a *API) Reset(c *gin.Context) {
	a.do(c, a.m.Reset)
}

func (a *API) Leave(c *gin.Context) {
	a.do(c, a.m.Leave)
}

func (a *API) DismissBanner(c *gin.Context) {
	a.do(c, a.m.DismissBanner)
}

func (a *API) do(c *gin.Context, cmd func(ctx context.Context) error) {
	if err := cmd(c.Request.Context()); err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, a.m.View())
}

// Watch streams the views of the machine over a websocket, starting with the current one.
func (a *API) Watch(c *gin.Context) {
	if err := a.hub.Serve(c.Writer, c.Request, a.m.View()); err != nil {
		slog.WarnContext(c.Request.Context(), "api: websocket upgrade failed", "error", err)
	}
}

func (a *API) GetAnswers(c *gin.Context) {
	b, err := a.j.Battle(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, b)
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
