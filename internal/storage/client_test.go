package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelgen/reelgen/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(server.URL, "test-key", opts...)
	require.NoError(t, err)
	client.uploadStep = time.Millisecond
	return client, server
}

func TestNew(t *testing.T) {
	_, err := New("", "key")
	assert.Error(t, err)

	_, err = New("https://storage.example.com", "")
	assert.Error(t, err)

	client, err := New("https://storage.example.com/", "key")
	require.NoError(t, err)
	assert.Equal(t, "https://storage.example.com/object/public/b/k", client.PublicURL("b", "k"))
}

func TestEnsureBucket(t *testing.T) {
	var gotBody createBucketRequest
	var gotAuth string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bucket", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	err := client.EnsureBucket(context.Background(), BucketImages)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, BucketImages, gotBody.Name)
	assert.Equal(t, BucketImages, gotBody.ID)
	assert.True(t, gotBody.Public)
}

func TestEnsureBucket_ConflictIsSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	assert.NoError(t, client.EnsureBucket(context.Background(), BucketAudio))
}

func TestEnsureBucket_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   provider.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, provider.KindAuth},
		{"server error", http.StatusInternalServerError, provider.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			err := client.EnsureBucket(context.Background(), BucketVideos)
			require.Error(t, err)
			assert.Equal(t, tt.kind, provider.KindOf(err))
		})
	}
}

func TestEnsureBuckets(t *testing.T) {
	var names []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req createBucketRequest
		json.NewDecoder(r.Body).Decode(&req)
		names = append(names, req.Name)
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.EnsureBuckets(context.Background()))
	assert.Equal(t, Buckets(), names)
}

func TestUpload(t *testing.T) {
	var gotPath, gotContentType, gotUpsert string
	var gotBody []byte
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotUpsert = r.Header.Get("x-upsert")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	err := client.Upload(context.Background(), BucketImages, "videos/v1/images/scene-1.jpg", []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "/object/renders-images/videos/v1/images/scene-1.jpg", gotPath)
	assert.Equal(t, "image/jpeg", gotContentType)
	assert.Equal(t, "true", gotUpsert)
	assert.Equal(t, []byte("jpeg-bytes"), gotBody)
}

func TestUpload_RetriesTransient(t *testing.T) {
	var attempts int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := client.Upload(context.Background(), BucketAudio, "videos/v1/audio.mp3", []byte("mp3"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestUpload_ExhaustsRetries(t *testing.T) {
	var attempts int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.Upload(context.Background(), BucketAudio, "videos/v1/audio.mp3", []byte("mp3"), "audio/mpeg")
	require.Error(t, err)
	assert.Equal(t, provider.KindUploadFailed, provider.KindOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestUpload_DoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
	})

	err := client.Upload(context.Background(), BucketCaptions, "videos/v1/captions.srt", []byte("srt"), "text/plain")
	require.Error(t, err)
	assert.Equal(t, provider.KindUploadFailed, provider.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDownload(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/object/public/renders-videos/videos/v1/final.mp4" {
			w.Write([]byte("mp4-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	data, err := client.Download(context.Background(), server.URL+"/object/public/renders-videos/videos/v1/final.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-bytes"), data)

	_, err = client.Download(context.Background(), server.URL+"/object/public/renders-videos/videos/v1/missing.mp4")
	require.Error(t, err)
	assert.Equal(t, provider.KindObjectNotVisible, provider.KindOf(err))
}

func TestWaitForAvailability(t *testing.T) {
	var probes int32
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if atomic.AddInt32(&probes, 1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := client.WaitForAvailability(context.Background(), server.URL+"/object/public/b/k")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&probes), int32(3))
}

func TestWaitForAvailability_GivesUp(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, WithAvailabilityWait(400*time.Millisecond))

	start := time.Now()
	err := client.WaitForAvailability(context.Background(), server.URL+"/object/public/b/k")
	require.Error(t, err)
	assert.Equal(t, provider.KindObjectNotVisible, provider.KindOf(err))
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, err.Error(), "404")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "videos/v1/images/scene-1.jpg", ImageKey("v1", 0))
	assert.Equal(t, "videos/v1/images/scene-7.jpg", ImageKey("v1", 6))
	assert.Equal(t, "videos/v1/audio.mp3", AudioKey("v1"))
	assert.Equal(t, "videos/v1/captions.srt", CaptionsKey("v1"))
	assert.Equal(t, "videos/v1/final.mp4", VideoKey("v1"))
	assert.Equal(t, []string{BucketImages, BucketAudio, BucketCaptions, BucketVideos}, Buckets())
}
