package provider

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/runrevr/imagerefresh/internal/models"
)

// Strategies lists the supported encodings in fallback priority order.
// Multipart goes first; JSON+base64 is the fallback when the provider rejects
// the multipart shape.
var Strategies = []models.TransformStrategy{
	models.StrategyMultipart,
	models.StrategyJSONBase64,
}

// Allowed output sizes. Anything else is mapped by aspect ratio, never rejected.
const (
	SizeSquare    = "1024x1024"
	SizeLandscape = "1536x1024"
	SizePortrait  = "1024x1536"
)

// Aspect-ratio cut for landscape/portrait mapping. A request is only mapped to
// a non-square size when its ratio is at least this far from 1:1, so 4:3-ish
// inputs (e.g. 800x600, ratio 1.33) land on the square size.
const aspectCut = 1.4

// RequestSpec is the abstract transformation request an encoding strategy
// turns into outbound bytes.
type RequestSpec struct {
	Model       string
	Prompt      string
	Size        string
	Image       []byte
	ContentType string
	Count       int
}

// EncodedRequest is a fully built outbound body. Building is pure; no I/O.
type EncodedRequest struct {
	Strategy    models.TransformStrategy
	ContentType string
	Body        []byte
}

var supportedMIMEs = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// BuildRequest encodes spec with the given strategy. The requested size is
// normalized onto the allow-list and the image is transcoded to PNG when its
// MIME type is not one the provider accepts.
func BuildRequest(strategy models.TransformStrategy, spec RequestSpec) (*EncodedRequest, error) {
	if len(spec.Image) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if spec.Prompt == "" {
		return nil, fmt.Errorf("empty prompt")
	}
	if spec.Count < 1 {
		spec.Count = 1
	}
	if spec.Count > 2 {
		spec.Count = 2
	}
	spec.Size = NormalizeSize(spec.Size)

	contentType := spec.ContentType
	if _, ok := supportedMIMEs[contentType]; !ok {
		contentType = SniffContentType(spec.Image)
	}
	if _, ok := supportedMIMEs[contentType]; !ok {
		png, err := transcodeToPNG(spec.Image)
		if err != nil {
			return nil, fmt.Errorf("transcode to png: %w", err)
		}
		spec.Image = png
		contentType = "image/png"
	}
	spec.ContentType = contentType

	switch strategy {
	case models.StrategyMultipart:
		return buildMultipart(spec)
	case models.StrategyJSONBase64:
		return buildJSONBase64(spec)
	default:
		return nil, fmt.Errorf("unknown strategy: %s", strategy)
	}
}

// NormalizeSize maps an arbitrary "WxH" string onto the allowed size set.
// Ratio >= 1.4 maps to landscape, <= 1/1.4 to portrait, everything else
// (including unparseable input) to square. Deterministic and total.
func NormalizeSize(size string) string {
	switch size {
	case SizeSquare, SizeLandscape, SizePortrait:
		return size
	}

	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(size)), "x", 2)
	if len(parts) != 2 {
		return SizeSquare
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return SizeSquare
	}

	ratio := float64(w) / float64(h)
	switch {
	case ratio >= aspectCut:
		return SizeLandscape
	case ratio <= 1/aspectCut:
		return SizePortrait
	default:
		return SizeSquare
	}
}

// SniffContentType infers the MIME type from the file signature.
func SniffContentType(data []byte) string {
	return strings.ToLower(strings.TrimSpace(strings.SplitN(http.DetectContentType(data), ";", 2)[0]))
}

func transcodeToPNG(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func buildMultipart(spec RequestSpec) (*EncodedRequest, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"model":  spec.Model,
		"prompt": spec.Prompt,
		"size":   spec.Size,
		"n":      strconv.Itoa(spec.Count),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", name, err)
		}
	}

	// CreatePart instead of CreateFormFile so the part carries the real image
	// MIME type. The provider rejects the default application/octet-stream.
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="image%s"`, supportedMIMEs[spec.ContentType]))
	header.Set("Content-Type", spec.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(spec.Image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	return &EncodedRequest{
		Strategy:    models.StrategyMultipart,
		ContentType: writer.FormDataContentType(),
		Body:        buf.Bytes(),
	}, nil
}

func buildJSONBase64(spec RequestSpec) (*EncodedRequest, error) {
	payload := map[string]any{
		"model":     spec.Model,
		"prompt":    spec.Prompt,
		"size":      spec.Size,
		"n":         spec.Count,
		"image":     base64.StdEncoding.EncodeToString(spec.Image),
		"mime_type": spec.ContentType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal json payload: %w", err)
	}
	return &EncodedRequest{
		Strategy:    models.StrategyJSONBase64,
		ContentType: "application/json",
		Body:        body,
	}, nil
}
