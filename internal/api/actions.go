package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// action decodes the JSON body into P, runs the action and writes its result.
func action[P any, R any](h *Handler, run func(context.Context, P) (*R, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params P
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err := dec.Decode(&params); err != nil && !errors.Is(err, io.EOF) {
			h.writeErrorResponse(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
		res, err := run(r.Context(), params)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSONResponse(w, http.StatusOK, res)
	}
}
