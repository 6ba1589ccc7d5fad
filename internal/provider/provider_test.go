package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reunitehq/reunite/internal/matching"
)

// testJPEG encodes a blank image of the given size as JPEG bytes.
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func vectorOf(dim int, fill float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func faceServer(t *testing.T, resp faceResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("expected multipart form: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("failed to encode response: %v", err)
		}
	}))
}

func TestExtractFacePicksHighestConfidence(t *testing.T) {
	srv := faceServer(t, faceResponse{
		FacesCount: 2,
		Faces: []faceDetection{
			{FaceIndex: 0, Dim: 4, Embedding: vectorOf(4, 0.1), DetScore: 0.61},
			{FaceIndex: 1, Dim: 4, Embedding: vectorOf(4, 0.9), DetScore: 0.97},
		},
	})
	defer srv.Close()

	c := NewClient(srv.URL, 4)
	emb, err := c.ExtractFace(context.Background(), testJPEG(t, 64, 64))
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if emb[0] != 0.9 {
		t.Errorf("expected the higher-confidence face, got %v", emb)
	}
}

func TestExtractFaceNoFaces(t *testing.T) {
	srv := faceServer(t, faceResponse{FacesCount: 0})
	defer srv.Close()

	c := NewClient(srv.URL, 4)
	_, err := c.ExtractFace(context.Background(), testJPEG(t, 64, 64))
	if !errors.Is(err, ErrUnprocessableImage) {
		t.Errorf("expected ErrUnprocessableImage, got %v", err)
	}
}

func TestExtractFaceUnprocessableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 4)
	_, err := c.ExtractFace(context.Background(), testJPEG(t, 64, 64))
	if !errors.Is(err, ErrUnprocessableImage) {
		t.Errorf("expected ErrUnprocessableImage, got %v", err)
	}
}

func TestExtractFaceDimensionMismatch(t *testing.T) {
	srv := faceServer(t, faceResponse{
		FacesCount: 1,
		Faces: []faceDetection{
			{FaceIndex: 0, Dim: 3, Embedding: vectorOf(3, 0.5), DetScore: 0.9},
		},
	})
	defer srv.Close()

	c := NewClient(srv.URL, 4)
	_, err := c.ExtractFace(context.Background(), testJPEG(t, 64, 64))
	if !errors.Is(err, matching.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestExtractFaceRejectsNonImage(t *testing.T) {
	c := NewClient("http://unused", 4)
	_, err := c.ExtractFace(context.Background(), []byte("not an image"))
	if !errors.Is(err, ErrUnprocessableImage) {
		t.Errorf("expected ErrUnprocessableImage for undecodable data, got %v", err)
	}
}

func TestExtractAllFacesOrderedByConfidence(t *testing.T) {
	srv := faceServer(t, faceResponse{
		FacesCount: 3,
		Faces: []faceDetection{
			{FaceIndex: 0, Dim: 4, Embedding: vectorOf(4, 0.2), DetScore: 0.52},
			{FaceIndex: 1, Dim: 4, Embedding: vectorOf(4, 0.8), DetScore: 0.95},
			{FaceIndex: 2, Dim: 4, Embedding: vectorOf(4, 0.5), DetScore: 0.71},
		},
	})
	defer srv.Close()

	c := NewClient(srv.URL, 4)
	embs, err := c.ExtractAllFaces(context.Background(), testJPEG(t, 64, 64))
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if len(embs) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(embs))
	}
	if embs[0][0] != 0.8 || embs[1][0] != 0.5 || embs[2][0] != 0.2 {
		t.Errorf("embeddings not ordered by confidence: %v", embs)
	}
}

func TestPrepareImageDownscales(t *testing.T) {
	data, err := PrepareImage(testJPEG(t, 4000, 2000))
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("result not decodable: %v", err)
	}
	if img.Bounds().Dx() != maxImageSize {
		t.Errorf("expected longer edge %d, got %d", maxImageSize, img.Bounds().Dx())
	}
	if img.Bounds().Dy() != maxImageSize/2 {
		t.Errorf("expected aspect ratio preserved, got height %d", img.Bounds().Dy())
	}
}

func TestPrepareImageKeepsSmallImages(t *testing.T) {
	data, err := PrepareImage(testJPEG(t, 320, 240))
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("result not decodable: %v", err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("small image should keep its size, got %v", img.Bounds())
	}
}
