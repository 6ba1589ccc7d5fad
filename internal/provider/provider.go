// Package provider talks to the face embedding service that turns
// photographs into face vectors.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/reunitehq/reunite/internal/matching"
)

const defaultProviderURL = "http://localhost:8000"

// ErrUnprocessableImage indicates the service could not find a usable face
// in the submitted photo.
var ErrUnprocessableImage = errors.New("no usable face found in image")

// Client computes face embeddings using the embedding service.
type Client struct {
	baseURL string
	dim     int
	client  *http.Client
}

// NewClient creates a provider client. dim is the embedding dimension the
// engine is configured for; responses with a different dimension are
// rejected.
func NewClient(baseURL string, dim int) *Client {
	if baseURL == "" {
		baseURL = defaultProviderURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{},
	}
}

// faceDetection is a single detected face in the service response.
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse is the response from the face embedding endpoint.
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// ExtractFace detects faces in the image and returns the embedding of the
// highest-confidence one. Photos without a detectable face yield
// ErrUnprocessableImage.
func (c *Client) ExtractFace(ctx context.Context, imageData []byte) (matching.Embedding, error) {
	prepared, err := PrepareImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprocessableImage, err)
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", prepared)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	best, ok := bestFace(resp.Faces)
	if !ok {
		return nil, ErrUnprocessableImage
	}

	emb := matching.Embedding(best.Embedding)
	if err := emb.Validate(c.dim); err != nil {
		return nil, fmt.Errorf("embedding service returned unusable vector: %w", err)
	}
	return emb, nil
}

// ExtractAllFaces returns embeddings of every detected face ordered by
// detection confidence, for sightings that capture more than one person.
func (c *Client) ExtractAllFaces(ctx context.Context, imageData []byte) ([]matching.Embedding, error) {
	prepared, err := PrepareImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprocessableImage, err)
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", prepared)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Faces) == 0 {
		return nil, ErrUnprocessableImage
	}

	faces := append([]faceDetection(nil), resp.Faces...)
	for i := 1; i < len(faces); i++ {
		for j := i; j > 0 && faces[j].DetScore > faces[j-1].DetScore; j-- {
			faces[j], faces[j-1] = faces[j-1], faces[j]
		}
	}

	embeddings := make([]matching.Embedding, 0, len(faces))
	for _, face := range faces {
		emb := matching.Embedding(face.Embedding)
		if err := emb.Validate(c.dim); err != nil {
			return nil, fmt.Errorf("embedding service returned unusable vector: %w", err)
		}
		embeddings = append(embeddings, emb)
	}
	return embeddings, nil
}

// bestFace picks the detection with the highest confidence score.
func bestFace(faces []faceDetection) (faceDetection, bool) {
	if len(faces) == 0 {
		return faceDetection{}, false
	}
	best := faces[0]
	for _, face := range faces[1:] {
		if face.DetScore > best.DetScore {
			best = face
		}
	}
	return best, true
}

// postMultipartImage constructs a multipart form with the image data and
// posts it to the given endpoint. The part carries an explicit Content-Type
// based on magic byte detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, ErrUnprocessableImage
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
