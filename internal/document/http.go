package document

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yourusername/docforge/internal/jobs"
)

// Scheduler はジョブを非同期キューに投入するためのインターフェースです。
type Scheduler interface {
	Schedule(ctx context.Context, jobID string, req Request) error
}

// HandlerOptions は同期/非同期切り替えなどの設定です。
type HandlerOptions struct {
	Scheduler           Scheduler
	AsyncThresholdBytes int64
	AsyncThresholdPages int
	// AllowedOrigins は WebSocket 接続を許可するオリジンです。空の場合は全て許可します。
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Handler はジョブ API の gin ハンドラーをまとめます。
type Handler struct {
	svc      *Service
	opts     HandlerOptions
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(svc *Service, opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:      svc,
		opts:     opts,
		validate: newFormValidator(),
		logger:   logger,
	}
}

// RegisterRoutes は /upload と /edit、/jobs 配下のルートを登録します。
func (h *Handler) RegisterRoutes(rg gin.IRouter) {
	rg.POST("/upload", h.Upload)

	job := rg.Group("/jobs/:id")
	job.GET("", h.Status)
	job.GET("/stream", h.Stream)
	job.GET("/inspect", h.Inspect)
	job.GET("/download", h.Download)
	for _, op := range []OperationType{
		OperationMerge,
		OperationSplit,
		OperationReorder,
		OperationRotate,
		OperationCompress,
		OperationConvert,
	} {
		job.POST("/"+string(op), h.Operation(op))
	}
	rg.POST("/edit/:target", h.Edit)
}

// operationForm は操作リクエストのフォームです。JSON でも受け付けます。
type operationForm struct {
	Ranges  string `form:"ranges" json:"ranges" validate:"max=4096"`
	Order   string `form:"order" json:"order" validate:"max=4096"`
	Degrees int    `form:"degrees" json:"degrees" validate:"omitempty,oneof=90 180 270"`
	Pages   string `form:"pages" json:"pages" validate:"max=4096"`
	Preset  string `form:"preset" json:"preset" validate:"max=16"`
	Target  string `form:"target" json:"target" validate:"max=16"`
}

func (f operationForm) request(op OperationType) Request {
	return Request{
		Operation: op,
		Ranges:    strings.TrimSpace(f.Ranges),
		Order:     strings.TrimSpace(f.Order),
		Degrees:   f.Degrees,
		Pages:     strings.TrimSpace(f.Pages),
		Preset:    strings.TrimSpace(f.Preset),
		Target:    strings.TrimSpace(f.Target),
	}
}

// editForm はテキスト編集のフォームです。jobId が空なら新しいジョブを作ります。
type editForm struct {
	JobID   string `form:"jobId" json:"jobId" validate:"max=64"`
	Content string `form:"content" json:"content" validate:"required"`
}

// statusResponse はジョブ状態に取得先URLを加えたレスポンスです。
type statusResponse struct {
	*jobs.Job
	DownloadURLs []string `json:"downloadUrls,omitempty"`
}

// Upload は POST /api/upload のハンドラーです。
func (h *Handler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "multipart/form-data でファイルを送信してください。",
		})
		return
	}
	defer form.RemoveAll()

	headers := uploadedFiles(form)
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "アップロードされたファイルが見つかりません。",
		})
		return
	}

	payloads := make([]Payload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.respondWithError(c, fmt.Errorf("アップロードファイルの読み込みに失敗しました: %w", err))
			return
		}
		defer f.Close()
		payloads = append(payloads, Payload{Name: fh.Filename, Body: f})
	}

	result, err := h.svc.Upload(c.Request.Context(), payloads)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Status は GET /api/jobs/:id のハンドラーです。
func (h *Handler) Status(c *gin.Context) {
	job, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.statusResponse(c.Request.Context(), job))
}

// Inspect は GET /api/jobs/:id/inspect のハンドラーです。
func (h *Handler) Inspect(c *gin.Context) {
	result, err := h.svc.Inspect(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Operation は POST /api/jobs/:id/{op} のハンドラーを返します。
// 入力が閾値を超え Scheduler が設定されている場合はキューに投入して 202 を返します。
func (h *Handler) Operation(op OperationType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var form operationForm
		if err := c.ShouldBind(&form); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "リクエストの形式が正しくありません。",
			})
			return
		}
		if err := h.validate.Struct(&form); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": validationMessage(err),
			})
			return
		}

		ctx := c.Request.Context()
		jobID := c.Param("id")
		req := form.request(op)

		plan, err := h.svc.Prepare(ctx, jobID, req)
		if err != nil {
			h.respondWithError(c, err)
			return
		}

		if h.shouldProcessAsync(plan) {
			if err := h.svc.MarkQueued(ctx, jobID, op); err != nil {
				h.respondWithError(c, err)
				return
			}
			if err := h.opts.Scheduler.Schedule(ctx, jobID, req); err != nil {
				if clearErr := h.svc.MarkQueued(context.WithoutCancel(ctx), jobID, ""); clearErr != nil {
					h.logger.Warn("failed to clear queued mark", zap.String("job_id", jobID), zap.Error(clearErr))
				}
				h.respondWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"jobId": jobID, "operation": op})
			return
		}

		job, err := h.svc.Run(ctx, jobID, req, nil)
		if err != nil {
			h.respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, h.statusResponse(ctx, job))
	}
}

// Edit は POST /api/edit/:target のハンドラーです。target は docx または pdf です。
func (h *Handler) Edit(c *gin.Context) {
	var form editForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "リクエストの形式が正しくありません。",
		})
		return
	}
	if err := h.validate.Struct(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": validationMessage(err),
		})
		return
	}

	ctx := c.Request.Context()
	job, err := h.svc.Edit(ctx, strings.TrimSpace(form.JobID), c.Param("target"), form.Content, nil)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.statusResponse(ctx, job))
}

// Download は GET /api/jobs/:id/download のハンドラーです。
// ?index=n で n 番目の成果物、?archive=zip で全成果物の ZIP を返します。
func (h *Handler) Download(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	if strings.EqualFold(c.Query("archive"), "zip") {
		archive, err := h.svc.ResolveArchive(ctx, jobID)
		if err != nil {
			h.respondWithError(c, err)
			return
		}
		setAttachmentHeaders(c, jobID, archive.Filename, "application/zip")
		c.Status(http.StatusOK)
		if err := archive.Stream(c.Writer); err != nil {
			h.logger.Error("failed to stream archive", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}

	index := 0
	if raw := strings.TrimSpace(c.Query("index")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondWithError(c, validationError("INVALID_INDEX", "index は整数で指定してください。"))
			return
		}
		index = n
	}

	out, file, err := h.svc.OpenOutput(ctx, jobID, index)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	defer file.Close()

	setAttachmentHeaders(c, jobID, out.Filename, out.ContentType)
	c.DataFromReader(http.StatusOK, out.Size, out.ContentType, file, nil)
}

func (h *Handler) statusResponse(ctx context.Context, job *jobs.Job) statusResponse {
	resp := statusResponse{Job: job}
	for i := range job.OutputFiles {
		u, err := h.svc.DownloadURL(ctx, job, i)
		if err != nil {
			h.logger.Warn("failed to build download url", zap.String("job_id", job.ID), zap.Int("index", i), zap.Error(err))
			return statusResponse{Job: job}
		}
		resp.DownloadURLs = append(resp.DownloadURLs, u)
	}
	return resp
}

func (h *Handler) shouldProcessAsync(plan *Plan) bool {
	if plan == nil || h.opts.Scheduler == nil {
		return false
	}
	if h.opts.AsyncThresholdBytes > 0 && plan.InputBytes > h.opts.AsyncThresholdBytes {
		return true
	}
	if h.opts.AsyncThresholdPages > 0 && plan.InputPages > h.opts.AsyncThresholdPages {
		return true
	}
	return false
}

func (h *Handler) respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := httpStatus(apiErr)
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

// httpStatus はエラー種別を HTTP ステータスに対応付けます。
func httpStatus(e *Error) int {
	switch e.Kind {
	case ErrParse, ErrValidation, ErrUnsupportedConversion:
		if isLimitExceeded(e) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrNotReady:
		return http.StatusConflict
	case ErrOperation:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func uploadedFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, key := range []string{"files[]", "files", "file"} {
		if files := form.File[key]; len(files) > 0 {
			return files
		}
	}
	return nil
}

func setAttachmentHeaders(c *gin.Context, jobID, filename, contentType string) {
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", filename, url.PathEscape(filename)))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", jobID)
}

// newFormValidator はフォームのタグ名でエラーを報告する validator を作ります。
func newFormValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage は validator のエラーを利用者向けメッセージに変換します。
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "入力内容を確認してください。"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s は %s のいずれかを指定してください。", fe.Field(), strings.ReplaceAll(fe.Param(), " ", " / ")))
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s を指定してください。", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s は %s 文字以内で指定してください。", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s の値が不正です。", fe.Field()))
		}
	}
	return strings.Join(msgs, " ")
}
