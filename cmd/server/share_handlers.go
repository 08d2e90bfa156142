package main

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/secure-share-hub/internal/auth"
	"github.com/secure-share-hub/internal/middleware"
	"github.com/secure-share-hub/internal/models"
	"github.com/secure-share-hub/internal/response"
	"github.com/secure-share-hub/internal/share"
	"github.com/secure-share-hub/internal/storage"
)

// multipartOverhead is allowed on top of the file size limit for the form
// envelope and the other fields.
const multipartOverhead = 1 << 20

func requestMeta(c *gin.Context) share.RequestMeta {
	return share.RequestMeta{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

func actorOf(c *gin.Context) share.Actor {
	u := middleware.CurrentUser(c)
	return share.Actor{UserID: u.ID, Admin: u.IsAdmin()}
}

func fileID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_FILE_ID", "Invalid file ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

type uploadLimits struct {
	MaxSize int64
	Allowed []string
}

func handleUpload(files *share.Service, blobs storage.BlobStore, limits uploadLimits, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limits.MaxSize+multipartOverhead)

		fh, err := c.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				respondError(c, storage.ErrFileTooLarge)
				return
			}
			response.Error(c, http.StatusBadRequest, "NO_FILE", "No file uploaded", nil)
			return
		}

		var opts models.UploadOptions
		if err := c.ShouldBind(&opts); err != nil {
			bindError(c, err)
			return
		}

		src, err := fh.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer src.Close()

		head := make([]byte, storage.SniffLen)
		n, err := io.ReadFull(src, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			respondError(c, err)
			return
		}
		head = head[:n]

		name := storage.SanitizeFilename(fh.Filename)
		contentType, err := storage.ValidateUpload(name, fh.Size, limits.MaxSize, head, limits.Allowed)
		if err != nil {
			respondError(c, err)
			return
		}

		owner := middleware.CurrentUser(c)
		key := storage.NewKey(owner.ID, name)
		ctx := c.Request.Context()
		if err := blobs.Put(ctx, key, io.MultiReader(bytes.NewReader(head), src), fh.Size, contentType); err != nil {
			respondError(c, err)
			return
		}

		f, err := files.Create(ctx, share.CreateInput{
			OwnerID:      owner.ID,
			Name:         key,
			OriginalName: name,
			Size:         fh.Size,
			ContentType:  contentType,
			StorageKey:   key,
			MaxDownloads: opts.MaxDownloads,
			ExpiryHours:  opts.ExpiryHours,
			Visibility:   opts.Visibility,
		}, requestMeta(c))
		if err != nil {
			if derr := blobs.Delete(ctx, key); derr != nil {
				logger.WithError(derr).WithField("key", key).Warn("failed to remove orphaned upload")
			}
			respondError(c, err)
			return
		}

		response.Created(c, gin.H{"file": f})
	}
}

func handleListFiles(files *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := files.List(c.Request.Context(), middleware.CurrentUser(c).ID)
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"files": list})
	}
}

func handleGetFile(files *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := fileID(c)
		if !ok {
			return
		}
		f, err := files.Get(c.Request.Context(), id, actorOf(c))
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"file": f})
	}
}

func handleRegenerateToken(files *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := fileID(c)
		if !ok {
			return
		}
		var req models.RegenerateRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				bindError(c, err)
				return
			}
		}

		f, err := files.Regenerate(c.Request.Context(), id, actorOf(c), req.ExpiryHours, requestMeta(c))
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"file": f})
	}
}

func handleRevoke(files *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := fileID(c)
		if !ok {
			return
		}
		f, err := files.Revoke(c.Request.Context(), id, actorOf(c), requestMeta(c))
		if err != nil {
			respondError(c, err)
			return
		}
		response.OK(c, gin.H{"file": f})
	}
}

func handleDeleteFile(files *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := fileID(c)
		if !ok {
			return
		}
		if err := files.Delete(c.Request.Context(), id, actorOf(c)); err != nil {
			respondError(c, err)
			return
		}
		response.Message(c, "File deleted successfully")
	}
}

// publicFile is what an anonymous holder of the link may see.
type publicFile struct {
	ID             uuid.UUID         `json:"id"`
	Name           string            `json:"name"`
	Size           int64             `json:"size"`
	Type           string            `json:"type"`
	UploadedAt     time.Time         `json:"uploadedAt"`
	ExpiresAt      time.Time         `json:"expiryTimestamp"`
	MaxDownloads   int               `json:"maxDownloads"`
	UsedDownloads  int               `json:"usedDownloads"`
	Visibility     models.Visibility `json:"visibility"`
	UploadedByName string            `json:"uploadedByName,omitempty"`
}

func handleAccessByToken(gate *share.Gate, authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		d, err := gate.Check(ctx, c.Param("token"), false, requestMeta(c))
		if err != nil {
			respondError(c, err)
			return
		}
		if !d.Allowed {
			shareRefused(c, d)
			return
		}

		f := d.File
		view := publicFile{
			ID:            f.ID,
			Name:          f.OriginalName,
			Size:          f.Size,
			Type:          f.ContentType,
			UploadedAt:    f.UploadedAt,
			ExpiresAt:     f.ExpiresAt,
			MaxDownloads:  f.MaxDownloads,
			UsedDownloads: f.UsedDownloads,
			Visibility:    f.Visibility,
		}
		if owner, err := authService.GetUserByID(ctx, f.OwnerID); err == nil {
			view.UploadedByName = owner.Name
		}
		response.OK(c, gin.H{"file": view})
	}
}

// handleDownloadByToken streams the bytes once the Gate has granted a
// download slot. The blob is opened first so a missing object costs no slot.
func handleDownloadByToken(gate *share.Gate, blobs storage.BlobStore, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var (
			rc   io.ReadCloser
			info storage.ObjectInfo
		)
		d, err := gate.Download(ctx, c.Param("token"), requestMeta(c), func(f *models.FileRecord) error {
			var err error
			rc, info, err = blobs.Get(ctx, f.StorageKey)
			if err != nil {
				logger.WithError(err).WithField("file_id", f.ID).Error("share has no readable bytes")
			}
			return err
		})
		if rc != nil {
			defer rc.Close()
		}
		if err != nil {
			respondError(c, err)
			return
		}
		if !d.Allowed {
			shareRefused(c, d)
			return
		}

		f := d.File
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		size := info.Size
		if size <= 0 {
			size = f.Size
		}
		c.DataFromReader(http.StatusOK, size, contentType, rc, map[string]string{
			"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": f.OriginalName}),
			"Cache-Control":       "no-store",
		})
	}
}
