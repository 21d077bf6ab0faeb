package validation

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHasNUL(t *testing.T) {
	tests := []struct {
		in  string
		nul bool
	}{
		{"0xabc", false},
		{"sblk1 abc", false},
		{"a/b", false},
		{"tab\there", false},
		{"nul\x00", true},
		{"\x00", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.nul, HasNUL(tc.in), "HasNUL(%q)", tc.in)
	}
}

func TestCheck_CollectsInOrder(t *testing.T) {
	errs := Check(
		Required("address", ""),
		Present("score", false),
		NoNUL("explanation", "short"),
	)
	require.Len(t, errs, 2)
	assert.Equal(t, "address: is required", errs.Error())
	assert.Equal(t, "score", errs[1].Field)
}

func TestCheck_NoErrors(t *testing.T) {
	errs := Check(Required("address", "0x dead"), Present("score", true), NoNUL("factors"))
	assert.Empty(t, errs)
	assert.Equal(t, "validation failed", Errors(nil).Error())
}

func TestRequired_AcceptsAnyNonEmptyString(t *testing.T) {
	for _, v := range []string{" ", "sblk1 abc", strings.Repeat("d", 300), "a/b"} {
		assert.Nil(t, Required("address", v)(), "Required(%q)", v)
	}
	assert.NotNil(t, Required("address", "")())
}

func TestNoNUL(t *testing.T) {
	assert.Nil(t, NoNUL("factors", "age", "tenure")())

	fe := NoNUL("factors", "age", "bad\x00key")()
	require.NotNil(t, fe)
	assert.Equal(t, "factors", fe.Field)
	assert.Equal(t, "must not contain NUL characters", fe.Message)
}

func TestIsBodyTooLarge(t *testing.T) {
	w := httptest.NewRecorder()
	body := http.MaxBytesReader(w, io.NopCloser(strings.NewReader("0123456789")), 4)
	_, err := io.ReadAll(body)

	assert.True(t, IsBodyTooLarge(err))
	assert.True(t, IsBodyTooLarge(fmt.Errorf("bind: %w", err)))
	assert.False(t, IsBodyTooLarge(io.ErrUnexpectedEOF))
}

func TestRequestSizeMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); IsBodyTooLarge(err) {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/echo", bytes.NewBufferString("tiny")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/echo", bytes.NewBufferString("way more than eight bytes")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
