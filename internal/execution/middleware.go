package execution

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// graphqlRequest is the standard GraphQL POST body.
type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// bodyCaptureWriter duplicates the response body so the middleware can
// hand it to the coordinator after the handler ran.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware returns a gin middleware that instruments ordinary HTTP POST
// GraphQL operations through the coordinator. Non-POST requests and bodies
// that do not parse as GraphQL requests pass through untouched.
func Middleware(coordinator *Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Next()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		var req graphqlRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.Query == "" {
			c.Next()
			return
		}

		oc := coordinator.BeginOperation(c.Request.Context(), req.Query)
		c.Request = c.Request.WithContext(oc.Context())

		writer := &bodyCaptureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer

		c.Next()

		var response any
		if writer.body.Len() > 0 {
			_ = json.Unmarshal(writer.body.Bytes(), &response)
		}

		var opErr error
		if status := writer.Status(); status >= http.StatusBadRequest {
			opErr = fmt.Errorf("graphql request failed with status %d", status)
		}
		coordinator.FinishOperation(oc, response, opErr)
	}
}
