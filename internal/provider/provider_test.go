package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := Transient("image.generate", errors.New("upstream 503"))
	assert.Equal(t, "image.generate: provider_transient: upstream 503", err.Error())

	bare := New(KindTimeout, "tts.synthesize", nil)
	assert.Equal(t, "tts.synthesize: timeout", bare.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain error", errors.New("boom"), KindUnknown},
		{"classified", ContentPolicy("image.generate", errors.New("rejected")), KindContentPolicy},
		{"wrapped classified", fmt.Errorf("scene 2: %w", Quota("image.generate", errors.New("429"))), KindQuota},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("calling llm: %w", context.DeadlineExceeded), KindTimeout},
		{"canceled", context.Canceled, KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient("storage.upload", cause)
	assert.ErrorIs(t, err, cause)
}

func TestRetriable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{Timeout("op", nil), true},
		{Transient("op", nil), true},
		{Quota("op", nil), true},
		{ObjectNotVisible("op", nil), true},
		{Auth("op", nil), false},
		{ContentPolicy("op", nil), false},
		{BadOutput("op", nil), false},
		{InvalidStatus("op", nil), false},
		{errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(string(KindOf(tt.err)), func(t *testing.T) {
			assert.Equal(t, tt.want, Retriable(tt.err))
		})
	}
}

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindQuota},
		{http.StatusBadRequest, KindBadOutput},
		{http.StatusUnprocessableEntity, KindBadOutput},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusTeapot, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := FromHTTPStatus("op", tt.status, "body")
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestFromHTTPStatus_TruncatesBody(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'b'
	}
	err := FromHTTPStatus("op", http.StatusInternalServerError, string(long))
	assert.Less(t, len(err.Error()), 300)
}
