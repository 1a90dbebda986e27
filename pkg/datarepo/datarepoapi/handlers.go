// Package datarepoapi exposes the table request family over HTTP. Jobs go
// through the generic jobx controllers; this package only narrows the
// accepted family and stages the files those jobs read.
package datarepoapi

import (
	"bytes"
	"context"
	"net/http"

	"github.com/Abraxas-365/repohub/pkg/datarepo"
	"github.com/Abraxas-365/repohub/pkg/errx"
	"github.com/Abraxas-365/repohub/pkg/fsx"
	"github.com/Abraxas-365/repohub/pkg/iam"
	"github.com/Abraxas-365/repohub/pkg/iam/auth"
	"github.com/Abraxas-365/repohub/pkg/iam/scopes"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxapi"
	"github.com/Abraxas-365/repohub/pkg/logx"
	"github.com/gofiber/fiber/v2"
)

var apiErrors = errx.NewRegistry("DATAREPOAPI")

var (
	ErrInvalidFileName = apiErrors.Register("INVALID_FILE_NAME", errx.TypeValidation, http.StatusBadRequest, "Invalid file name")
	ErrEmptyFile       = apiErrors.Register("EMPTY_FILE", errx.TypeValidation, http.StatusBadRequest, "File body is empty")
)

// StagedFile is the reply to a file upload.
type StagedFile struct {
	File string `json:"file"`
	Size int    `json:"size"`
}

// FileStore is the part of fsx.FileSystem staging needs.
type FileStore interface {
	fsx.FileWriter
	fsx.FileDeleter
	Exists(ctx context.Context, path string) (bool, error)
}

type Handlers struct {
	jobs  *jobxapi.Handlers
	files FileStore
}

func NewHandlers(jobs *jobxapi.Handlers, files FileStore) *Handlers {
	return &Handlers{jobs: jobs, files: files}
}

func (h *Handlers) RegisterRoutes(router fiber.Router, authMiddleware fiber.Handler) {
	tables := router.Group("/api/v1/tables", authMiddleware)

	tables.Put("/files/:name", auth.RequireScope(scopes.TablesUpload), h.StageFile())
	tables.Delete("/files/:name", auth.RequireScope(scopes.TablesUpload), h.RemoveFile())
	tables.Post("/upload/async/start", auth.RequireScope(scopes.TablesUpload), jobxapi.SubmitAs[datarepo.TableRequest](h.jobs))
	tables.Get("/upload/async/get/:jobId", auth.RequireScope(scopes.JobsRead), h.jobs.Poll())
}

// StageFile stores the request body as the caller's file :name, replacing
// any earlier file of that name.
func (h *Handlers) StageFile() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authCtx, ok := auth.FromFiber(c)
		if !ok {
			return iam.ErrUnauthorized()
		}
		name := c.Params("name")
		path, err := datarepo.FilePath(authCtx.OwnerID(), name)
		if err != nil {
			return apiErrors.New(ErrInvalidFileName).WithDetail("name", name)
		}
		body := c.Body()
		if len(body) == 0 {
			return apiErrors.New(ErrEmptyFile)
		}

		if err := h.files.WriteFileStream(c.UserContext(), path, bytes.NewReader(body)); err != nil {
			return err
		}

		logx.WithFields(logx.Fields{
			"owner_id": authCtx.OwnerID(),
			"file":     name,
			"size":     len(body),
		}).Debug("datarepoapi: file staged")

		return c.Status(fiber.StatusCreated).JSON(StagedFile{File: name, Size: len(body)})
	}
}

// RemoveFile deletes the caller's staged file :name. Loaded tables keep their
// rows.
func (h *Handlers) RemoveFile() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authCtx, ok := auth.FromFiber(c)
		if !ok {
			return iam.ErrUnauthorized()
		}
		name := c.Params("name")
		path, err := datarepo.FilePath(authCtx.OwnerID(), name)
		if err != nil {
			return apiErrors.New(ErrInvalidFileName).WithDetail("name", name)
		}

		ctx := c.UserContext()
		exists, err := h.files.Exists(ctx, path)
		if err != nil {
			return err
		}
		if !exists {
			return fsx.NotFound(name)
		}
		if err := h.files.DeleteFile(ctx, path); err != nil {
			return err
		}

		logx.WithFields(logx.Fields{
			"owner_id": authCtx.OwnerID(),
			"file":     name,
		}).Debug("datarepoapi: file removed")

		return c.SendStatus(fiber.StatusNoContent)
	}
}
