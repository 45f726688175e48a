package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerCMS/internal/app/model"
	"github.com/sifan077/PowerCMS/internal/app/service"
	"github.com/sifan077/PowerCMS/internal/infra/storage"
	"go.uber.org/zap"
)

const historyLimit = 100

// ContentDeps groups dependencies required by the resource handlers.
type ContentDeps struct {
	Logger   *zap.Logger
	Content  service.ContentService
	Uploader storage.Uploader
	// Location interprets timestamps sent without a zone.
	Location *time.Location
	// Limiter guards mutating routes when set.
	Limiter fiber.Handler
}

// ContentHandler serves the same routes for every resource type.
type ContentHandler struct {
	logger   *zap.Logger
	content  service.ContentService
	uploader storage.Uploader
	loc      *time.Location
	limiter  fiber.Handler
}

// NewContentHandler creates a content handler with the provided dependencies.
func NewContentHandler(deps ContentDeps) *ContentHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &ContentHandler{
		logger:   logger,
		content:  deps.Content,
		uploader: deps.Uploader,
		loc:      loc,
		limiter:  limiter,
	}
}

// Register wires /api/<resource> routes for every resource type.
func (h *ContentHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	for _, rt := range model.ResourceTypes() {
		rt := rt
		g := api.Group("/" + rt.Name)
		{
			g.Get("/", h.list(rt))
			g.Post("/", h.limiter, h.create(rt))
			g.Post("/upload", h.limiter, h.upload(rt))
			g.Patch("/schedule-all", h.limiter, h.scheduleAll(rt))
			g.Get("/:id", h.get(rt))
			g.Put("/:id", h.limiter, h.update(rt))
			g.Delete("/:id", h.limiter, h.remove(rt))
			g.Patch("/:id/enable", h.limiter, h.setAutoEnable(rt))
			g.Patch("/:id/pin", h.limiter, h.setPinned(rt))
			g.Get("/:id/history", h.history(rt))
		}
	}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// list handles GET /api/<resource>?page=&pageSize=&forManagement=
func (h *ContentHandler) list(rt model.ResourceType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		pageSize := c.QueryInt("pageSize", 0)
		if pageSize == 0 {
			pageSize = c.QueryInt("limit", 0)
		}

		result, err := h.content.List(requestContext(c), rt.Name, service.ListQuery{
			Page:            c.QueryInt("page", 1),
			PageSize:        pageSize,
			IncludeDisabled: c.QueryBool("forManagement", false),
		})
		if err != nil {
			return writeError(c, h.logger, err)
		}

		return c.JSON(fiber.Map{
			"success":     true,
			"currentPage": result.Page,
			"pageSize":    result.PageSize,
			"total":       result.Total,
			"totalPages":  result.TotalPages,
			"records":     result.Records,
		})
	}
}

// get handles GET /api/<resource>/:id
func (h *ContentHandler) get(rt model.ResourceType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rec, err := h.content.Get(requestContext(c), rt.Name, c.Params("id"))
		if err != nil {
			return writeError(c, h.logger, err)
		}
		return c.JSON(rec)
	}
}

// create handles POST /api/<resource> with a JSON or multipart body.
func (h *ContentHandler) create(rt model.ResourceType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := requestContext(c)
		input, uploaded, err := h.parseRecordInput(c, rt)
		if err != nil {
			return writeError(c, h.logger, err)
		}

		rec, err := h.content.Create(ctx, rt.Name, input)
		if err != nil {
			h.discardUpload(ctx, uploaded)
			return writeError(c, h.logger, err)
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success": true,
			"message": rt.Label + " created",
			"data":    rec,
		})
	}
}

// update handles PUT /api/<resource>/:id with a JSON or multipart body.
func (h *ContentHandler) update(rt model.ResourceType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := requestContext(c)
		input, uploaded, err := h.parseRecordInput(c, rt)
		if err != nil {
			return writeError(c, h.logger, err)
		}

		rec, err := h.content.Update(ctx, rt.Name, c.Params("id"), input)
		if err != nil {
			h.discardUpload(ctx, uploaded)
			return writeError(c, h.logger, err)
		}

		return c.JSON(fiber.Map{
			"success": true,
			"message": rt.Label + " updated",
			"data":    rec,
		})
	}
}

// remove handles DELETE /api/<resource>/:id
func (h *ContentHandler) remove(rt model.ResourceType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := h.content.Delete(requestContext(c), rt.Name, c.Params("id")); err != nil {
			return writeError(c, h.logger, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": rt.Label + " deleted",
		})
	}
}

// AutoEnableRequest is the body of PATCH /:id/enable. Enable is the legacy name.
type AutoEnableRequest struct {
	AutoEnable *bool `json:"autoEnable"`
	Enable     *bool `json:"enable"`
}

// setAutoEnable handles PATCH /api/<resource>/:id/enable
func (h *ContentHandler) setAutoEnable(rt model.ResourceType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req AutoEnableRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return badRequest(c, "invalid request body")
		}
		desired := req.AutoEnable
		if desired == nil {
			desired = req.Enable
		}
		if desired == nil {
			return badRequest(c, "autoEnable is required")
		}

		rec, err := h.content.SetAutoEnable(requestContext(c), rt.Name, c.Params("id"), *desired)
		if err != nil {
			return writeError(c, h.logger, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": rt.Label + " auto enable updated",
			"data":    rec,
		})
	}
}

// PinRequest is the body of PATCH /:id/pin.
type PinRequest struct {
	Pinned *bool `json:"pinned"`
}

// setPinned handles PATCH /api/<resource>/:id/pin
func (h *ContentHandler) setPinned(rt model.ResourceType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req PinRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if req.Pinned == nil {
			return badRequest(c, "pinned is required")
		}

		rec, err := h.content.SetPinned(requestContext(c), rt.Name, c.Params("id"), *req.Pinned)
		if err != nil {
			return writeError(c, h.logger, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": rt.Label + " pin updated",
			"data":    rec,
		})
	}
}

// ScheduleAllRequest is the body of PATCH /schedule-all.
type ScheduleAllRequest struct {
	IDs        []string `json:"ids"`
	AutoEnable *bool    `json:"autoEnable"`
}

// scheduleAll handles PATCH /api/<resource>/schedule-all
func (h *ContentHandler) scheduleAll(rt model.ResourceType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ScheduleAllRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return badRequest(c, "invalid request body")
		}
		autoEnable := true
		if req.AutoEnable != nil {
			autoEnable = *req.AutoEnable
		}

		affected, err := h.content.BulkSchedule(requestContext(c), rt.Name, req.IDs, autoEnable)
		if err != nil {
			return writeError(c, h.logger, err)
		}
		return c.JSON(fiber.Map{
			"success":  true,
			"affected": affected,
		})
	}
}

// history handles GET /api/<resource>/:id/history
func (h *ContentHandler) history(rt model.ResourceType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", historyLimit)
		if limit <= 0 || limit > historyLimit {
			limit = historyLimit
		}

		entries, err := h.content.History(requestContext(c), rt.Name, c.Params("id"), limit)
		if err != nil {
			return writeError(c, h.logger, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"data":    entries,
		})
	}
}

// upload handles POST /api/<resource>/upload for editor embedded images.
func (h *ContentHandler) upload(rt model.ResourceType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return saveEditorUpload(c, h.logger, h.uploader, rt.UploadDir)
	}
}

func saveEditorUpload(c *fiber.Ctx, logger *zap.Logger, uploader storage.Uploader, dir string) error {
	file, err := c.FormFile("upload")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"uploaded": false,
			"error":    ErrorInfo{Code: CodeBadRequest, Message: "no file uploaded"},
		})
	}

	ref, err := storeFile(requestContext(c), uploader, dir, "upload", file)
	if err != nil {
		status, code := classify(err)
		if status == fiber.StatusInternalServerError {
			logger.Error("failed to store upload", zap.Error(err))
		}
		return c.Status(status).JSON(fiber.Map{
			"uploaded": false,
			"error":    ErrorInfo{Code: code, Message: err.Error()},
		})
	}

	return c.JSON(fiber.Map{
		"uploaded": true,
		"url":      ref,
	})
}

func storeFile(ctx context.Context, uploader storage.Uploader, dir, field string, file *multipart.FileHeader) (string, error) {
	if uploader == nil {
		return "", fmt.Errorf("%w: uploads are not configured", service.ErrValidation)
	}
	f, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	return uploader.Save(ctx, storage.Object{
		Dir:         dir,
		Field:       field,
		Filename:    file.Filename,
		ContentType: file.Header.Get(fiber.HeaderContentType),
		Size:        file.Size,
		Body:        f,
	})
}

func (h *ContentHandler) discardUpload(ctx context.Context, ref string) {
	if ref == "" || h.uploader == nil {
		return
	}
	if err := h.uploader.Delete(ctx, ref); err != nil {
		h.logger.Warn("failed to discard upload", zap.String("image", ref), zap.Error(err))
	}
}

// parseRecordInput reads a create or update body. A multipart image part is
// stored first; its reference is returned so a failed operation can discard it.
func (h *ContentHandler) parseRecordInput(c *fiber.Ctx, rt model.ResourceType) (service.RecordInput, string, error) {
	var (
		values   map[string]string
		uploaded string
	)

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return service.RecordInput{}, "", fmt.Errorf("%w: invalid multipart body", service.ErrValidation)
		}
		values = make(map[string]string, len(form.Value))
		for k, v := range form.Value {
			if len(v) > 0 {
				values[k] = v[0]
			}
		}
		dropImageRef(values)
		if files := form.File["image"]; len(files) > 0 {
			ref, err := storeFile(requestContext(c), h.uploader, rt.UploadDir, "image", files[0])
			if err != nil {
				return service.RecordInput{}, "", err
			}
			uploaded = ref
			values["image"] = ref
		}
	} else {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(c.Body(), &raw); err != nil {
			return service.RecordInput{}, "", fmt.Errorf("%w: invalid request body", service.ErrValidation)
		}
		values = flattenJSON(raw)
		dropImageRef(values)
	}

	input, err := buildRecordInput(rt, values, h.loc)
	if err != nil {
		h.discardUpload(requestContext(c), uploaded)
		return service.RecordInput{}, "", err
	}
	return input, uploaded, nil
}

// dropImageRef discards a text image value so only an uploaded file can set
// the image. An empty value still clears it.
func dropImageRef(values map[string]string) {
	if values["image"] != "" {
		delete(values, "image")
	}
}

// flattenJSON turns JSON members into form style strings; null becomes "".
func flattenJSON(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		text := strings.TrimSpace(string(v))
		if text == "null" {
			text = ""
		}
		out[k] = text
	}
	return out
}

func buildRecordInput(rt model.ResourceType, values map[string]string, loc *time.Location) (service.RecordInput, error) {
	var input service.RecordInput

	if v, ok := values["title"]; ok {
		input.Title = &v
	}
	for _, key := range []string{"timeOn", "timeOff"} {
		v := strings.TrimSpace(values[key])
		if v == "" {
			continue
		}
		t, err := model.ParseTime(v, loc)
		if err != nil {
			return input, fmt.Errorf("%w: invalid %s", service.ErrValidation, key)
		}
		if key == "timeOn" {
			input.TimeOn = &t
		} else {
			input.TimeOff = &t
		}
	}
	if v := strings.TrimSpace(values["priority"]); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return input, fmt.Errorf("%w: invalid priority", service.ErrValidation)
		}
		input.Priority = &p
	}
	if v := strings.TrimSpace(values["autoEnable"]); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return input, fmt.Errorf("%w: invalid autoEnable", service.ErrValidation)
		}
		input.AutoEnable = &b
	}
	if v := strings.TrimSpace(values["removeImage"]); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return input, fmt.Errorf("%w: invalid removeImage", service.ErrValidation)
		}
		input.RemoveImage = b
	}
	if v, ok := values["image"]; ok {
		if v == "" {
			input.RemoveImage = true
		} else {
			input.Image = &v
		}
	}
	for _, name := range rt.Fields {
		if v, ok := values[name]; ok {
			if input.Fields == nil {
				input.Fields = make(map[string]string)
			}
			input.Fields[name] = v
		}
	}
	return input, nil
}
