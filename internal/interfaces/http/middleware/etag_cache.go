package middleware

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// bodyCacheWriter buffers the response body so the ETag can be computed before anything is sent.
// bodyCacheWriter 缓冲响应正文，以便在发送前计算 ETag。
type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w bodyCacheWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

// ETagCache answers conditional GETs of profiles and assessments with 304 Not Modified.
// Risk data is per user, so responses are marked private and must be revalidated.
// ETagCache 对画像和评估记录的条件 GET 请求返回 304。
func ETagCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		bcw := &bodyCacheWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = bcw
		c.Next()

		responseBody := bcw.body.Bytes()
		if c.Writer.Status() == http.StatusOK && len(responseBody) > 0 {
			etag := fmt.Sprintf(`"%x"`, sha256.Sum256(responseBody))
			c.Header("ETag", etag)
			c.Header("Cache-Control", "private, no-cache")
			if c.GetHeader("If-None-Match") == etag {
				bcw.ResponseWriter.WriteHeader(http.StatusNotModified)
				bcw.ResponseWriter.WriteHeaderNow()
				return
			}
		}
		_, _ = bcw.ResponseWriter.Write(responseBody)
	}
}
