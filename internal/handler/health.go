package handler

import (
	"net/http"

	"dermodel/internal/httpjson"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, map[string]string{"status": "healthy"})
}
