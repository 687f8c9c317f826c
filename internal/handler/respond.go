package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/adrienverge/localstripe/internal/domain"
	"github.com/adrienverge/localstripe/internal/resource"
)

// respond writes a JSON body with the given status.
func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("writing response failed", "error", err)
	}
}

// decode reads a JSON request body into dst. An empty body is allowed
// and leaves dst zeroed; malformed JSON is a validation error.
func decode(r *http.Request, dst any) error {
	const op = "request.decode"
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return domain.Invalid(op, "Could not read request body.")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.Invalid(op, "Invalid request body: "+err.Error())
	}
	return nil
}

// listParams are the shared list-endpoint query parameters.
type listParams struct {
	limit         int
	startingAfter string
	expand        []string
}

func parseListParams(r *http.Request) (listParams, error) {
	q := r.URL.Query()
	p := listParams{expand: expandPaths(r)}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, domain.Invalid("request.list", "Invalid integer: "+raw)
		}
		p.limit = n
	}
	p.startingAfter = q.Get("starting_after")
	return p, nil
}

// expandPaths collects ?expand[]=a.b paths, accepting both the
// bracketed and the bare form.
func expandPaths(r *http.Request) []string {
	q := r.URL.Query()
	paths := append([]string{}, q["expand[]"]...)
	paths = append(paths, q["expand"]...)
	return paths
}

// expandAndRespond applies requested expansions to an export and
// writes it.
func (h *Handler) expandAndRespond(w http.ResponseWriter, r *http.Request, export map[string]any) {
	if err := resource.Expand(r.Context(), export, expandPaths(r), h.registry); err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, export)
}

// respondList paginates exports and writes the list envelope.
func (h *Handler) respondList(w http.ResponseWriter, r *http.Request, url string, exports []map[string]any) {
	p, err := parseListParams(r)
	if err != nil {
		h.ErrorResponse(w, r, err)
		return
	}
	// List expansions are addressed through the data wrapper.
	var paths []string
	for _, path := range p.expand {
		if after, ok := strings.CutPrefix(path, "data."); ok {
			paths = append(paths, after)
		}
	}

	list := resource.Paginate(url, exports, p.limit, p.startingAfter)
	for _, item := range list.Data {
		if err := resource.Expand(r.Context(), item, paths, h.registry); err != nil {
			h.ErrorResponse(w, r, err)
			return
		}
	}
	h.respond(w, http.StatusOK, list.Export())
}

// deletedResponse is the body returned after deleting a resource.
func deletedResponse(object, id string) map[string]any {
	return map[string]any{"id": id, "object": object, "deleted": true}
}
