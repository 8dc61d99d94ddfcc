package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/middleware"
	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/pipeline"
	"github.com/bilgisen/newswire/internal/queue"
	"github.com/bilgisen/newswire/internal/responselog"
	"github.com/bilgisen/newswire/internal/storage"
)

const version = "1.0.0"

type Handlers struct {
	store     *storage.Store
	pipeline  *pipeline.Pipeline
	runner    *pipeline.Runner
	queue     *queue.Queue
	logs      *responselog.Log
	validator *middleware.Validator
	log       zerolog.Logger
	started   time.Time
}

func NewHandlers(store *storage.Store, p *pipeline.Pipeline, runner *pipeline.Runner, q *queue.Queue, logs *responselog.Log, log zerolog.Logger) *Handlers {
	return &Handlers{
		store:     store,
		pipeline:  p,
		runner:    runner,
		queue:     q,
		logs:      logs,
		validator: middleware.NewValidator(),
		log:       log,
		started:   time.Now(),
	}
}

// HealthCheck handles the /health endpoint
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	status := "ok"
	code := fiber.StatusOK
	if err := h.store.DB().PingContext(c.UserContext()); err != nil {
		h.log.Error().Err(err).Msg("Database ping failed")
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":  status,
		"version": version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"time":    time.Now().Format(time.RFC3339),
	})
}

// page parses page and page_size into a limit and offset
func page(c *fiber.Ctx) (limit, offset uint64) {
	p, _ := strconv.Atoi(c.Query("page", "1"))
	if p < 1 {
		p = 1
	}
	size, _ := strconv.Atoi(c.Query("page_size", "20"))
	switch {
	case size > 100:
		size = 100
	case size <= 0:
		size = 20
	}
	return uint64(size), uint64((p - 1) * size)
}

func paramID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid id")
	}
	return id, nil
}

func queryID(c *fiber.Ctx, key string) (int64, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid "+key)
	}
	return id, nil
}

// Settings

func (h *Handlers) ListSettings(c *fiber.Ctx) error {
	settings, err := h.store.ListSettings(c.UserContext(), models.SettingStatus(c.Query("status")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": settings})
}

func (h *Handlers) GetSetting(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	st, err := h.store.GetSetting(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (h *Handlers) CreateSetting(c *fiber.Ctx) error {
	var st models.SyncSetting
	if err := h.validator.Bind(c, &st); err != nil {
		return err
	}
	st.ID = 0
	if err := h.store.CreateSetting(c.UserContext(), &st); err != nil {
		return err
	}
	h.log.Info().Int64("setting_id", st.ID).Str("name", st.Name).Msg("Sync setting created")
	return c.Status(fiber.StatusCreated).JSON(st)
}

func (h *Handlers) UpdateSetting(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var st models.SyncSetting
	if err := h.validator.Bind(c, &st); err != nil {
		return err
	}
	st.ID = id
	if err := h.store.UpdateSetting(c.UserContext(), &st); err != nil {
		return err
	}
	updated, err := h.store.GetSetting(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (h *Handlers) DeleteSetting(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.pipeline.DeleteSetting(c.UserContext(), id); err != nil {
		if errors.Is(err, storage.ErrSettingInUse) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SyncSetting runs one ingestion inline and queues the routed work
func (h *Handlers) SyncSetting(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if c.QueryBool("defer") {
		if err := h.pipeline.EnqueueSync(c.UserContext(), id); err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
	}
	res, err := h.pipeline.SyncNow(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// Articles

func (h *Handlers) ListArticles(c *fiber.Ctx) error {
	settingID, err := queryID(c, "setting_id")
	if err != nil {
		return err
	}
	limit, offset := page(c)
	articles, err := h.store.ListSourceArticles(c.UserContext(), storage.ArticleFilter{
		SettingID: settingID,
		Provider:  models.Provider(c.Query("provider")),
		Flag:      models.Lifecycle(c.Query("flag")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": articles})
}

func (h *Handlers) ListFinished(c *fiber.Ctx) error {
	settingID, err := queryID(c, "setting_id")
	if err != nil {
		return err
	}
	limit, offset := page(c)
	articles, err := h.store.ListFinishedArticles(c.UserContext(), storage.FinishedFilter{
		SettingID: settingID,
		State:     models.ArticleState(c.Query("state")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": articles})
}

func (h *Handlers) GetFinished(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	f, err := h.store.GetFinishedArticle(c.UserContext(), id)
	if err != nil {
		return err
	}
	deliveries, err := h.store.ListDeliveries(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"article": f, "deliveries": deliveries})
}

type sendRequest struct {
	SiteIDs []int64 `json:"site_ids" validate:"dive,gt=0"`
	Force   bool    `json:"force"`
}

// SendFinished distributes a ready article. force delivers inline, otherwise
// one distribute task per site is queued.
func (h *Handlers) SendFinished(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req sendRequest
	if len(c.Body()) > 0 {
		if err := h.validator.Bind(c, &req); err != nil {
			return err
		}
	}

	mode, code := pipeline.Deferred, fiber.StatusAccepted
	if req.Force {
		mode, code = pipeline.Immediate, fiber.StatusOK
	}
	outcomes, err := h.pipeline.Send(c.UserContext(), id, req.SiteIDs, mode)
	if err != nil {
		return err
	}
	return c.Status(code).JSON(fiber.Map{"data": outcomes})
}

// Sites

// siteRequest carries the credentials the Site model keeps out of JSON
type siteRequest struct {
	Name          string          `json:"name" validate:"required"`
	Endpoint      string          `json:"endpoint" validate:"required,url"`
	TermsEndpoint string          `json:"terms_endpoint" validate:"omitempty,url"`
	AuthMode      models.AuthMode `json:"auth_mode" validate:"omitempty,oneof=none basic bearer params"`
	Username      string          `json:"username"`
	Password      string          `json:"password"`
	Token         string          `json:"token"`
	TokenParam    string          `json:"token_param"`
	Active        *bool           `json:"active"`
}

func (r siteRequest) site() *models.Site {
	s := &models.Site{
		Name:          strings.TrimSpace(r.Name),
		Endpoint:      r.Endpoint,
		TermsEndpoint: r.TermsEndpoint,
		AuthMode:      r.AuthMode,
		Username:      r.Username,
		Password:      r.Password,
		Token:         r.Token,
		TokenParam:    r.TokenParam,
		Active:        r.Active == nil || *r.Active,
	}
	if s.AuthMode == "" {
		s.AuthMode = models.AuthNone
	}
	return s
}

func (h *Handlers) ListSites(c *fiber.Ctx) error {
	sites, err := h.store.ListSites(c.UserContext(), c.QueryBool("active"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sites})
}

func (h *Handlers) UpsertSite(c *fiber.Ctx) error {
	var req siteRequest
	if err := h.validator.Bind(c, &req); err != nil {
		return err
	}
	site := req.site()
	if err := h.store.UpsertSite(c.UserContext(), site); err != nil {
		return err
	}
	h.log.Info().Int64("site_id", site.ID).Str("name", site.Name).Msg("Site saved")
	return c.Status(fiber.StatusCreated).JSON(site)
}

func (h *Handlers) SyncSiteTerms(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if c.QueryBool("defer") {
		if err := h.pipeline.EnqueueTerms(c.UserContext(), id); err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
	}
	res, err := h.pipeline.SyncTerms(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// Response log

func (h *Handlers) ListLogs(c *fiber.Ctx) error {
	sourceID, err := queryID(c, "source_id")
	if err != nil {
		return err
	}
	var since time.Time
	if v := c.Query("since"); v != "" {
		if since, err = time.Parse(time.RFC3339, v); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "since must be RFC3339")
		}
	}
	limit, offset := page(c)
	entries, err := h.logs.List(c.UserContext(), responselog.Filter{
		Group:      models.LogGroup(c.Query("group")),
		SourceType: models.SourceType(c.Query("source_type")),
		SourceID:   sourceID,
		OnlyErrors: c.QueryBool("errors"),
		Since:      since,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

func (h *Handlers) PurgeLogs(c *fiber.Ctx) error {
	before, err := time.Parse(time.RFC3339, c.Query("before"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "before must be RFC3339")
	}
	n, err := h.logs.Purge(c.UserContext(), before)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"purged": n})
}

// Queue

func (h *Handlers) QueueStatus(c *fiber.Ctx) error {
	stats, err := h.queue.Stats(c.UserContext())
	if err != nil {
		return err
	}
	dead, err := h.queue.DeadLetters(c.UserContext(), c.QueryInt("dead_limit", 20))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"stats": stats, "dead_letters": dead})
}

// Tick drains one batch of the queue on demand
func (h *Handlers) Tick(c *fiber.Ctx) error {
	res, err := h.runner.Tick(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(res)
}
