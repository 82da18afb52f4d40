package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"github.com/transacta/paymentid/internal/aws"
)

// Folders images may be stored under.
const (
	FolderPayments      = "payments"
	FolderProfileImages = "profile-images"
)

const (
	// MaxEdge bounds the longer side of stored images.
	MaxEdge = 1200
	// JPEGQuality is the re-encode quality.
	JPEGQuality = 80
	// MaxUploadBytes caps the accepted upload size.
	MaxUploadBytes = 10 << 20
	// MaxPixels caps the decoded size; a small compressed file can claim
	// dimensions that would take gigabytes to decode.
	MaxPixels = 40_000_000
)

var (
	ErrUnknownFolder    = errors.New("unknown media folder")
	ErrUnsupportedImage = errors.New("file is not a supported image")
	ErrTooLarge         = errors.New("image exceeds upload limit")
)

var unsafeName = regexp.MustCompile(`[^a-z0-9]+`)

// Uploader compresses images and stores them in S3.
type Uploader struct {
	client        aws.S3API
	bucket        string
	publicBaseURL string
	logger        *slog.Logger
	nowFunc       func() time.Time
}

func NewUploader(client aws.S3API, bucket, publicBaseURL string, logger *slog.Logger) *Uploader {
	return &Uploader{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
		nowFunc:       time.Now,
	}
}

// Upload decodes r, shrinks it to fit MaxEdge, stores it as JPEG under
// {folder}/{name}-{unixMillis}.jpg and returns the public URL.
func (u *Uploader) Upload(ctx context.Context, folder, filename string, r io.Reader) (string, error) {
	if folder != FolderPayments && folder != FolderProfileImages {
		return "", fmt.Errorf("%w: %q", ErrUnknownFolder, folder)
	}

	raw, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(raw) > MaxUploadBytes {
		return "", ErrTooLarge
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		u.logger.WarnContext(ctx, "Image dimensions rejected", "width", cfg.Width, "height", cfg.Height)
		return "", fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	b := img.Bounds()
	if b.Dx() > MaxEdge || b.Dy() > MaxEdge {
		img = imaging.Fit(img, MaxEdge, MaxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}

	key := ObjectKey(folder, filename, u.nowFunc())
	size := int64(buf.Len())
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &u.bucket,
		Key:           &key,
		Body:          bytes.NewReader(buf.Bytes()),
		ContentType:   awsString("image/jpeg"),
		ContentLength: &size,
		CacheControl:  awsString("public, max-age=31536000"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	u.logger.InfoContext(ctx, "Image uploaded", "key", key, "bytes", size, "original_bytes", len(raw))
	return u.publicBaseURL + "/" + key, nil
}

// ObjectKey builds {folder}/{name}-{unixMillis}.jpg from the client filename.
func ObjectKey(folder, filename string, at time.Time) string {
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	name := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(base), "-"), "-")
	if name == "" {
		name = "image"
	}
	return fmt.Sprintf("%s/%s-%d.jpg", folder, name, at.UnixMilli())
}

func awsString(s string) *string { return &s }
