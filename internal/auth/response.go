package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/cookstagram/accounts/internal/logger"
	"github.com/cookstagram/accounts/pkg/model"
)

const maxBodySize = 1 << 20

type errorResponse struct {
	Error  model.ErrorKind   `json:"error"`
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

// logError records err at a level matching its kind and returns the
// client-facing error.
func logError(r *http.Request, err error) *model.Error {
	e := model.AsError(err)
	log := logger.FromContext(r.Context())
	if e.Kind == model.KindInternal {
		log.Error("request failed", "error", err)
	} else {
		log.Info("request rejected", "kind", string(e.Kind), "error", err)
	}
	return e
}

// writeError maps err onto the JSON error body and its status code.
// Internal failures are never described to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := logError(r, err)
	writeJSON(w, e.Kind.StatusCode(), &errorResponse{
		Error:  e.Kind,
		Detail: e.Message,
		Fields: e.Fields,
	})
}

// redirectError sends the browser back to the frontend's login error page
// with the error message in the query.
func redirectError(w http.ResponseWriter, r *http.Request, errorURL string, err error) {
	e := logError(r, err)

	uri, parseErr := url.Parse(errorURL)
	if parseErr != nil || errorURL == "" {
		writeJSON(w, e.Kind.StatusCode(), &errorResponse{Error: e.Kind, Detail: e.Message})
		return
	}
	query := uri.Query()
	query.Set("error", e.Message)
	uri.RawQuery = query.Encode()
	http.Redirect(w, r, uri.String(), http.StatusFound)
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if err == io.EOF {
			return model.ValidationFailed("request body is required", nil)
		}
		return model.ValidationFailed("malformed request body", nil).WithCause(err)
	}
	return nil
}
