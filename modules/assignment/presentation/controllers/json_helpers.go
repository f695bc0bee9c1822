package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/workmesh/assign-sdk/pkg/configuration"
	"github.com/workmesh/assign-sdk/pkg/httpapi"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := httpapi.WriteJSON(w, status, payload); err != nil {
		panic(err)
	}
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	meta := map[string]string{
		"request_id": httpapi.EnsureRequestID(w, r, configuration.Use().RequestIDHeader),
	}
	_ = httpapi.WriteError(w, status, code, message, meta)
}

func decodeJSON(body io.ReadCloser, out any) error {
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
