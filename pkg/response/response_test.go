package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/concours-api/pkg/errors"
	"github.com/noah-isme/concours-api/pkg/middleware/requestid"
)

func TestErrorEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestid.Middleware())
	r.GET("/", func(c *gin.Context) {
		Error(c, appErrors.Clone(appErrors.ErrDuplicateLabel, "label already used"))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestid.Header, "req-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var body Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "req-7", body.RequestID)
	require.NotNil(t, body.Error)
	require.Equal(t, appErrors.ErrDuplicateLabel.Code, body.Error.Code)
}

func TestAttachmentSanitizesFileName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Attachment(c, "../acte \"naissance\".pdf", "", []byte("%PDF"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename=".._acte _naissance_.pdf"`, w.Header().Get("Content-Disposition"))
	require.Equal(t, "%PDF", w.Body.String())
}
